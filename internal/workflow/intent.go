package workflow

import (
	"fmt"

	"github.com/ashureev/writecoach/internal/domain"
)

// IntentKind tags the variant held by an Intent.
type IntentKind string

const (
	IntentDeclareStance    IntentKind = "declare_stance"
	IntentProposeArgument  IntentKind = "propose_argument"
	IntentRespondArgument  IntentKind = "respond_argument"
	IntentConfirmArguments IntentKind = "confirm_arguments"
	IntentSubmitParagraph  IntentKind = "submit_paragraph"
	IntentReviewParagraph  IntentKind = "review_paragraph"
)

// Intent is a classified user or model action. Only the fields relevant to
// Kind are read by the machine.
type Intent struct {
	Kind      IntentKind      `json:"kind"`
	Position  domain.Position `json:"position,omitempty"`
	Rationale string          `json:"rationale,omitempty"`
	Text      string          `json:"text,omitempty"`
	Index     int             `json:"index,omitempty"`
	Accept    bool            `json:"accept,omitempty"`
}

func (in Intent) String() string {
	switch in.Kind {
	case IntentDeclareStance:
		return fmt.Sprintf("%s(%s)", in.Kind, in.Position)
	case IntentRespondArgument:
		return fmt.Sprintf("%s(%d, accept=%t)", in.Kind, in.Index, in.Accept)
	case IntentReviewParagraph:
		return fmt.Sprintf("%s(approve=%t)", in.Kind, in.Accept)
	}
	return string(in.Kind)
}

// DeclareStance builds a stance declaration.
func DeclareStance(position domain.Position, rationale string) Intent {
	return Intent{Kind: IntentDeclareStance, Position: position, Rationale: rationale}
}

// ProposeArgument records a model-proposed supporting point.
func ProposeArgument(text string) Intent {
	return Intent{Kind: IntentProposeArgument, Text: text}
}

// RespondArgument accepts or rejects the argument at index.
func RespondArgument(index int, accept bool) Intent {
	return Intent{Kind: IntentRespondArgument, Index: index, Accept: accept}
}

// ConfirmArguments asks to move on with the current argument set.
func ConfirmArguments() Intent {
	return Intent{Kind: IntentConfirmArguments}
}

// SubmitParagraph records a drafted or revised paragraph.
func SubmitParagraph(content string) Intent {
	return Intent{Kind: IntentSubmitParagraph, Text: content}
}

// ReviewParagraph approves or rejects the paragraph under review.
func ReviewParagraph(approve bool) Intent {
	return Intent{Kind: IntentReviewParagraph, Accept: approve}
}
