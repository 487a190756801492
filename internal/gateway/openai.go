package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/workflow"
)

var errNoChoices = errors.New("completion returned no choices")

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
// BaseURL may point at any compatible vendor.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	RequestTimeout time.Duration
}

// OpenAI is a Gateway backed by an OpenAI-compatible API.
type OpenAI struct {
	client  *openai.Client
	model   string
	temp    float32
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible gateway.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}
}

// Complete implements Gateway.
func (o *OpenAI) Complete(ctx context.Context, instructions prompt.Document, history []domain.Message) (Reply, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instructions.String(),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: o.temp,
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        workflow.ToolName,
				Description: workflow.ToolDescription,
				Parameters:  workflow.ToolSchema(),
			},
		}},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Reply{}, unavailable("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, unavailable("chat completion", errNoChoices)
	}

	msg := resp.Choices[0].Message
	reply := Reply{Text: cleanText(msg.Content)}
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		reply.ToolCall = &ToolCall{Name: call.Function.Name}
		if call.Function.Arguments != "" {
			reply.ToolCall.Arguments = json.RawMessage(call.Function.Arguments)
		}
		if len(msg.ToolCalls) > 1 {
			o.logger.Warn("model requested multiple tool calls, using the first",
				"count", len(msg.ToolCalls))
		}
	}

	o.logger.Debug("chat completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return reply, nil
}
