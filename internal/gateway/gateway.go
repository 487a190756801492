// Package gateway provides completion gateway clients. Every transport
// failure is reported wrapped with workflow.ErrGatewayUnavailable; gateways
// never retry on their own.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/workflow"
)

// Gateway produces the model's next reply for a conversation.
type Gateway interface {
	Complete(ctx context.Context, instructions prompt.Document, history []domain.Message) (Reply, error)
}

// Reply is one model response.
type Reply struct {
	Text     string    `json:"text"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Func adapts a function to the Gateway interface.
type Func func(ctx context.Context, instructions prompt.Document, history []domain.Message) (Reply, error)

// Complete implements Gateway.
func (f Func) Complete(ctx context.Context, instructions prompt.Document, history []domain.Message) (Reply, error) {
	return f(ctx, instructions, history)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", workflow.ErrGatewayUnavailable, op, err)
}

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// cleanText drops reasoning blocks some models emit inline.
func cleanText(s string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(s, ""))
}
