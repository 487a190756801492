package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/workflow"
)

var history = []domain.Message{
	{Role: domain.RoleUser, Content: "Remote work is better."},
	{Role: domain.RoleAssistant, Content: "What is your stance?"},
	{Role: domain.RoleUser, Content: "I agree because commuting wastes time"},
}

func TestOpenAI_Complete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "model": "MiniMax-M2",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant",
				"content": "<think>all approved</think>Here is your essay.",
				"tool_calls": [{"id": "c1", "type": "function",
					"function": {"name": "write", "arguments": "{\"paragraphs\":[\"A.\",\"B.\"]}"}}]
			}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "MiniMax-M2"}, nil)
	reply, err := g.Complete(context.Background(), prompt.Assemble(domain.MemoryOf("Formal.")), history)
	require.NoError(t, err)

	assert.Equal(t, "Here is your essay.", reply.Text)
	require.NotNil(t, reply.ToolCall)
	assert.Equal(t, workflow.ToolName, reply.ToolCall.Name)
	var payload workflow.Payload
	require.NoError(t, json.Unmarshal(reply.ToolCall.Arguments, &payload))
	assert.Equal(t, []string{"A.", "B."}, payload.Paragraphs)

	assert.Equal(t, "MiniMax-M2", captured["model"])
	messages := captured["messages"].([]any)
	require.Len(t, messages, len(history)+1)
	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "Formal.")
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "write", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestOpenAI_FailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m"}, nil)
	_, err := g.Complete(context.Background(), prompt.Assemble(domain.NoMemory()), history)
	assert.ErrorIs(t, err, workflow.ErrGatewayUnavailable)
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", RequestTimeout: 50 * time.Millisecond}, nil)
	_, err := g.Complete(context.Background(), prompt.Assemble(domain.NoMemory()), history)
	assert.ErrorIs(t, err, workflow.ErrGatewayUnavailable)
}

type completionServer struct {
	reply *structpb.Struct
	err   error
	got   *structpb.Struct
}

func (s *completionServer) complete(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.got = in
	return s.reply, s.err
}

var completionDesc = grpc.ServiceDesc{
	ServiceName: "writecoach.v1.Completion",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Complete",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*completionServer).complete(ctx, in)
		},
	}},
}

func startCompletionServer(t *testing.T, impl *completionServer) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&completionDesc, impl)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	g, err := NewGRPC(GRPCConfig{Address: "passthrough:///bufnet", ConnectTimeout: 2 * time.Second}, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestGRPC_Complete(t *testing.T) {
	args, err := structpb.NewStruct(map[string]any{"paragraphs": []any{"One.", "Two."}})
	require.NoError(t, err)
	impl := &completionServer{reply: &structpb.Struct{Fields: map[string]*structpb.Value{
		"text": structpb.NewStringValue("Done."),
		"tool_call": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":      structpb.NewStringValue("write"),
			"arguments": structpb.NewStructValue(args),
		}}),
	}}}
	g := startCompletionServer(t, impl)

	require.NoError(t, g.Health(context.Background()))

	reply, err := g.Complete(context.Background(), prompt.Assemble(domain.NoMemory()), history)
	require.NoError(t, err)
	assert.Equal(t, "Done.", reply.Text)
	require.NotNil(t, reply.ToolCall)
	assert.Equal(t, "write", reply.ToolCall.Name)

	var payload workflow.Payload
	require.NoError(t, json.Unmarshal(reply.ToolCall.Arguments, &payload))
	assert.Equal(t, []string{"One.", "Two."}, payload.Paragraphs)

	fields := impl.got.GetFields()
	assert.Contains(t, fields["instructions"].GetStringValue(), "# Workflow")
	assert.Len(t, fields["messages"].GetListValue().GetValues(), len(history))
	tool := fields["tools"].GetListValue().GetValues()[0].GetStructValue()
	assert.Equal(t, "write", tool.GetFields()["name"].GetStringValue())
}

func TestGRPC_ErrorIsUnavailable(t *testing.T) {
	g := startCompletionServer(t, &completionServer{err: status.Error(codes.ResourceExhausted, "quota")})

	_, err := g.Complete(context.Background(), prompt.Assemble(domain.NoMemory()), history)
	assert.ErrorIs(t, err, workflow.ErrGatewayUnavailable)
}

func TestGRPC_EmptyReplyIsUnavailable(t *testing.T) {
	g := startCompletionServer(t, &completionServer{reply: &structpb.Struct{}})

	_, err := g.Complete(context.Background(), prompt.Assemble(domain.NoMemory()), history)
	assert.ErrorIs(t, err, workflow.ErrGatewayUnavailable)
	assert.True(t, errors.Is(err, errEmptyReply))
}

func TestDecodeReply_TextOnly(t *testing.T) {
	reply, err := DecodeReply(&structpb.Struct{Fields: map[string]*structpb.Value{
		"text": structpb.NewStringValue("  <think>x</think> <argument>A</argument> "),
	}})
	require.NoError(t, err)
	assert.Equal(t, "<argument>A</argument>", reply.Text)
	assert.Nil(t, reply.ToolCall)
}

func TestFunc(t *testing.T) {
	var g Gateway = Func(func(context.Context, prompt.Document, []domain.Message) (Reply, error) {
		return Reply{Text: "ok"}, nil
	})
	reply, err := g.Complete(context.Background(), prompt.Document{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
}
