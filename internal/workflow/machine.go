package workflow

import (
	"fmt"
	"strings"

	"github.com/ashureev/writecoach/internal/domain"
)

const (
	minArguments = 2
	maxArguments = 3
)

// Outcome describes the result of a single Advance call.
type Outcome struct {
	Applied bool
	From    domain.Phase
	To      domain.Phase
	// Reason explains a no-op transition.
	Reason string
	// Err is set when a transition was refused by an invariant check.
	Err error
}

// Moved reports whether the transition changed the phase.
func (o Outcome) Moved() bool {
	return o.Applied && o.From != o.To
}

type handler func(s *domain.Session, in Intent) (reason string, err error)

// edges lists every legal phase change. Self-loops are always legal.
var edges = map[domain.Phase][]domain.Phase{
	domain.PhaseCollectStance:      {domain.PhaseProposeArguments},
	domain.PhaseProposeArguments:   {domain.PhaseStanceConfirmation},
	domain.PhaseStanceConfirmation: {domain.PhaseProposeArguments, domain.PhaseDrafting},
	domain.PhaseDrafting:           {domain.PhaseParagraphReview, domain.PhaseDone},
	domain.PhaseParagraphReview:    {domain.PhaseDone},
	domain.PhaseDone:               nil,
}

// CanMove reports whether the transition graph allows from -> to.
func CanMove(from, to domain.Phase) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine applies intents to sessions. It holds no session state and is safe
// for concurrent use.
type Machine struct {
	table map[domain.Phase]map[IntentKind]handler
}

// NewMachine builds the transition table.
func NewMachine() *Machine {
	return &Machine{
		table: map[domain.Phase]map[IntentKind]handler{
			domain.PhaseCollectStance: {
				IntentDeclareStance: declareStance,
			},
			domain.PhaseProposeArguments: {
				IntentProposeArgument: proposeArgument,
				IntentRespondArgument: respondArgument,
			},
			domain.PhaseStanceConfirmation: {
				IntentRespondArgument:  objectToArgument,
				IntentConfirmArguments: confirmArguments,
			},
			domain.PhaseDrafting: {
				IntentSubmitParagraph: submitParagraph,
			},
			domain.PhaseParagraphReview: {
				IntentSubmitParagraph: submitParagraph,
				IntentReviewParagraph: reviewParagraph,
			},
		},
	}
}

// Advance applies in to s and returns the resulting session. Every
// (phase, intent) pair has a defined result: intents that are not legal in the
// current phase leave the session unchanged. The input session is never mutated.
func (m *Machine) Advance(s domain.Session, in Intent) (domain.Session, Outcome) {
	out := Outcome{From: s.Phase, To: s.Phase}

	h, ok := m.table[s.Phase][in.Kind]
	if !ok {
		out.Reason = fmt.Sprintf("%s is not legal in %s", in.Kind, s.Phase)
		return s, out
	}

	next := s.Clone()
	reason, err := h(&next, in)
	if err != nil {
		out.Reason = reason
		out.Err = err
		return s, out
	}
	if reason != "" {
		out.Reason = reason
		return s, out
	}
	if !CanMove(s.Phase, next.Phase) {
		out.Reason = fmt.Sprintf("illegal edge %s -> %s", s.Phase, next.Phase)
		out.Err = fmt.Errorf("%w: %s", ErrInvariantViolation, out.Reason)
		return s, out
	}

	out.Applied = true
	out.To = next.Phase
	return next, out
}

func declareStance(s *domain.Session, in Intent) (string, error) {
	if !in.Position.Valid() {
		return "stance is missing or ambiguous", nil
	}
	rationale := strings.TrimSpace(in.Rationale)
	if rationale == "" {
		return "stance has no rationale", nil
	}
	s.Stance = &domain.Stance{Position: in.Position, Rationale: rationale}
	s.Phase = domain.PhaseProposeArguments
	return "", nil
}

func proposeArgument(s *domain.Session, in Intent) (string, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "empty argument", nil
	}
	if len(s.Arguments) >= maxArguments {
		return fmt.Sprintf("already %d arguments pending a response", len(s.Arguments)), nil
	}
	s.Arguments = append(s.Arguments, domain.Argument{Text: text, Status: domain.ArgumentProposed})
	return "", nil
}

func respondArgument(s *domain.Session, in Intent) (string, error) {
	if in.Index < 0 || in.Index >= len(s.Arguments) {
		return fmt.Sprintf("no argument at index %d", in.Index), nil
	}
	arg := &s.Arguments[in.Index]
	if arg.Status != domain.ArgumentProposed {
		return fmt.Sprintf("argument %d already %s", in.Index, arg.Status), nil
	}
	arg.Status = domain.ArgumentRejected
	if in.Accept {
		arg.Status = domain.ArgumentAccepted
	}

	if len(s.Arguments) >= minArguments && !hasStatus(s.Arguments, domain.ArgumentProposed) {
		s.Phase = domain.PhaseStanceConfirmation
	}
	return "", nil
}

// objectToArgument handles the user objecting to an accepted argument while
// reviewing the set; the session stays in confirmation.
func objectToArgument(s *domain.Session, in Intent) (string, error) {
	if in.Accept {
		return "argument set is already decided", nil
	}
	if in.Index < 0 || in.Index >= len(s.Arguments) {
		return fmt.Sprintf("no argument at index %d", in.Index), nil
	}
	arg := &s.Arguments[in.Index]
	if arg.Status != domain.ArgumentAccepted {
		return fmt.Sprintf("argument %d already %s", in.Index, arg.Status), nil
	}
	arg.Status = domain.ArgumentRejected
	return "", nil
}

func confirmArguments(s *domain.Session, _ Intent) (string, error) {
	if hasStatus(s.Arguments, domain.ArgumentRejected) {
		kept := s.Arguments[:0]
		for _, a := range s.Arguments {
			if a.Status != domain.ArgumentRejected {
				kept = append(kept, a)
			}
		}
		s.Arguments = kept
		s.Phase = domain.PhaseProposeArguments
		return "", nil
	}
	if s.AcceptedArguments() < minArguments {
		return fmt.Sprintf("need at least %d accepted arguments", minArguments), nil
	}
	s.Phase = domain.PhaseDrafting
	return "", nil
}

func submitParagraph(s *domain.Session, in Intent) (string, error) {
	content := strings.TrimSpace(in.Text)
	if content == "" {
		return "empty paragraph", nil
	}

	for i := range s.Paragraphs {
		p := &s.Paragraphs[i]
		switch p.ReviewStatus {
		case domain.ReviewDraft:
			p.Content = content
			p.ReviewStatus = domain.ReviewUnderReview
			s.Phase = domain.PhaseParagraphReview
			return "", nil
		case domain.ReviewUnderReview:
			return fmt.Sprintf("paragraph %d is still under review", p.Index), nil
		}
	}

	s.Paragraphs = append(s.Paragraphs, domain.Paragraph{
		Index:        len(s.Paragraphs),
		Content:      content,
		ReviewStatus: domain.ReviewUnderReview,
	})
	s.Phase = domain.PhaseParagraphReview
	return "", nil
}

func reviewParagraph(s *domain.Session, in Intent) (string, error) {
	target := -1
	for i, p := range s.Paragraphs {
		if p.ReviewStatus == domain.ReviewUnderReview {
			target = i
			break
		}
	}
	if target < 0 {
		return "no paragraph under review", nil
	}
	if !in.Accept {
		s.Paragraphs[target].ReviewStatus = domain.ReviewDraft
		return "", nil
	}
	s.Paragraphs[target].ReviewStatus = domain.ReviewApproved
	return finishIfComplete(s)
}

// finishIfComplete moves to Done once every paragraph is approved and there is
// exactly one paragraph per accepted argument.
func finishIfComplete(s *domain.Session) (string, error) {
	for _, p := range s.Paragraphs {
		if p.ReviewStatus != domain.ReviewApproved {
			return "", nil
		}
	}
	accepted := s.AcceptedArguments()
	switch {
	case len(s.Paragraphs) < accepted:
		return "", nil
	case len(s.Paragraphs) > accepted:
		reason := fmt.Sprintf("%d approved paragraphs for %d accepted arguments", len(s.Paragraphs), accepted)
		return reason, fmt.Errorf("%w: %s", ErrInvariantViolation, reason)
	}
	s.Phase = domain.PhaseDone
	return "", nil
}

func hasStatus(args []domain.Argument, status domain.ArgumentStatus) bool {
	for _, a := range args {
		if a.Status == status {
			return true
		}
	}
	return false
}
