package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/writecoach/internal/domain"
)

// ToolName is the single terminal action available to the model.
const ToolName = "write"

// ToolDescription is advertised to gateways that support tool definitions.
const ToolDescription = "Output the complete, approved essay. Only call this once every paragraph has been approved."

// Payload is the write tool's argument schema: paragraph contents in order.
type Payload struct {
	Paragraphs []string `json:"paragraphs"`
}

// Text concatenates the paragraphs with no additional text.
func (p Payload) Text() string {
	return strings.Join(p.Paragraphs, "")
}

var toolSchema = json.RawMessage(`{"type":"object","properties":{"paragraphs":{"type":"array","items":{"type":"string"},"description":"Essay paragraphs in order."}},"required":["paragraphs"]}`)

// ToolSchema returns the JSON schema of the write tool's payload.
func ToolSchema() json.RawMessage {
	return append(json.RawMessage(nil), toolSchema...)
}

// Deliver builds the final essay payload from the session's paragraphs. It is
// rejected unless the session is done, so a partial essay can never become the
// terminal artifact. The session is not modified.
func Deliver(s domain.Session) (Payload, error) {
	if s.Phase != domain.PhaseDone {
		return Payload{}, fmt.Errorf("%w: session %s is in %s", ErrToolInvocationOutOfPhase, s.ID, s.Phase)
	}

	paragraphs := append([]domain.Paragraph(nil), s.Paragraphs...)
	sort.Slice(paragraphs, func(i, j int) bool {
		return paragraphs[i].Index < paragraphs[j].Index
	})

	out := Payload{Paragraphs: make([]string, 0, len(paragraphs))}
	for _, p := range paragraphs {
		if p.ReviewStatus != domain.ReviewApproved {
			return Payload{}, fmt.Errorf("%w: paragraph %d is %s in a done session", ErrInvariantViolation, p.Index, p.ReviewStatus)
		}
		out.Paragraphs = append(out.Paragraphs, p.Content)
	}
	return out, nil
}
