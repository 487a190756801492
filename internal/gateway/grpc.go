package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/workflow"
)

// CompleteMethod is the unary method invoked on the completion service. Both
// request and response are google.protobuf.Struct values.
const CompleteMethod = "/writecoach.v1.Completion/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyReply               = errors.New("reply has neither text nor tool call")
)

// GRPCConfig holds configuration for the gRPC gateway.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC talks to a completion service over gRPC.
type GRPC struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPC connects to the completion service and waits until the connection
// is ready so bad endpoints fail at startup.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create completion client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion service", "address", cfg.Address)

	return &GRPC{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (g *GRPC) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health queries the standard gRPC health service.
func (g *GRPC) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(g.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return unavailable("health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: completion service is %s", workflow.ErrGatewayUnavailable, resp.GetStatus())
	}
	return nil
}

// Complete implements Gateway.
func (g *GRPC) Complete(ctx context.Context, instructions prompt.Document, history []domain.Message) (Reply, error) {
	req, err := EncodeRequest(instructions, history)
	if err != nil {
		return Reply{}, fmt.Errorf("encode completion request: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, CompleteMethod, req, resp); err != nil {
		return Reply{}, unavailable("complete", err)
	}

	reply, err := DecodeReply(resp)
	if err != nil {
		return Reply{}, unavailable("decode reply", err)
	}
	return reply, nil
}

// EncodeRequest builds the Struct sent to CompleteMethod:
//
//	{"instructions": "...", "messages": [{"role": "...", "content": "..."}],
//	 "tools": [{"name": "write", "description": "...", "parameters": {...}}]}
func EncodeRequest(instructions prompt.Document, history []domain.Message) (*structpb.Struct, error) {
	messages := make([]any, 0, len(history))
	for _, m := range history {
		messages = append(messages, map[string]any{"role": string(m.Role), "content": m.Content})
	}

	var params map[string]any
	if err := json.Unmarshal(workflow.ToolSchema(), &params); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}

	return structpb.NewStruct(map[string]any{
		"instructions": instructions.String(),
		"messages":     messages,
		"tools": []any{map[string]any{
			"name":        workflow.ToolName,
			"description": workflow.ToolDescription,
			"parameters":  params,
		}},
	})
}

// DecodeReply reads {"text": "...", "tool_call": {"name": "...", "arguments": {...}}}.
func DecodeReply(resp *structpb.Struct) (Reply, error) {
	fields := resp.GetFields()
	reply := Reply{Text: cleanText(fields["text"].GetStringValue())}

	if call := fields["tool_call"].GetStructValue(); call != nil {
		name := call.GetFields()["name"].GetStringValue()
		var args json.RawMessage
		if v, ok := call.GetFields()["arguments"]; ok {
			raw, err := protojson.Marshal(v)
			if err != nil {
				return Reply{}, fmt.Errorf("encode tool arguments: %w", err)
			}
			args = raw
		}
		reply.ToolCall = &ToolCall{Name: name, Arguments: args}
	}

	if reply.Text == "" && reply.ToolCall == nil {
		return Reply{}, errEmptyReply
	}
	return reply, nil
}
