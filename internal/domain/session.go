package domain

import (
	"fmt"
	"time"
)

// Phase is a named state of a coaching session.
type Phase string

const (
	PhaseCollectStance      Phase = "collect_stance"
	PhaseProposeArguments   Phase = "propose_arguments"
	PhaseStanceConfirmation Phase = "stance_confirmation"
	PhaseDrafting           Phase = "drafting"
	PhaseParagraphReview    Phase = "paragraph_review"
	PhaseDone               Phase = "done"
)

// Phases lists every phase in protocol order.
var Phases = []Phase{
	PhaseCollectStance,
	PhaseProposeArguments,
	PhaseStanceConfirmation,
	PhaseDrafting,
	PhaseParagraphReview,
	PhaseDone,
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p.Order() >= 0
}

// Order returns the position of p in protocol order, or -1 if p is unknown.
func (p Phase) Order() int {
	for i, known := range Phases {
		if known == p {
			return i
		}
	}
	return -1
}

func (p Phase) String() string {
	return string(p)
}

// UnmarshalText rejects unknown phases.
func (p *Phase) UnmarshalText(text []byte) error {
	candidate := Phase(text)
	if !candidate.Valid() {
		return fmt.Errorf("unknown phase %q", string(text))
	}
	*p = candidate
	return nil
}

// Position is the user's declared stance on the essay prompt.
type Position string

const (
	PositionAgree    Position = "agree"
	PositionDisagree Position = "disagree"
	PositionNeutral  Position = "neutral"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	switch p {
	case PositionAgree, PositionDisagree, PositionNeutral:
		return true
	}
	return false
}

// Stance holds the classified position together with its rationale.
type Stance struct {
	Position  Position `json:"position"`
	Rationale string   `json:"rationale"`
}

// ArgumentStatus tracks the user's response to a proposed argument.
type ArgumentStatus string

const (
	ArgumentProposed ArgumentStatus = "proposed"
	ArgumentAccepted ArgumentStatus = "accepted"
	ArgumentRejected ArgumentStatus = "rejected"
)

// Argument is a supporting point later expanded into one paragraph.
type Argument struct {
	Text   string         `json:"text"`
	Status ArgumentStatus `json:"status"`
}

// ReviewStatus tracks a paragraph through review.
type ReviewStatus string

const (
	ReviewDraft       ReviewStatus = "draft"
	ReviewUnderReview ReviewStatus = "under_review"
	ReviewApproved    ReviewStatus = "approved"
)

// Paragraph is one section of the essay under construction.
type Paragraph struct {
	Index        int          `json:"index"`
	Content      string       `json:"content"`
	ReviewStatus ReviewStatus `json:"review_status"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one essay-coaching conversation.
type Session struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	Topic      string         `json:"topic,omitempty"`
	Phase      Phase          `json:"phase"`
	Stance     *Stance        `json:"stance,omitempty"`
	Arguments  []Argument     `json:"arguments,omitempty"`
	Paragraphs []Paragraph    `json:"paragraphs,omitempty"`
	Memory     MemorySnapshot `json:"memory"`
	History    []Message      `json:"history,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewSession creates a session in the initial phase.
func NewSession(id, userID, topic string, memory MemorySnapshot, now time.Time) Session {
	return Session{
		ID:        id,
		UserID:    userID,
		Topic:     topic,
		Phase:     PhaseCollectStance,
		Memory:    memory,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Stance != nil {
		stance := *s.Stance
		out.Stance = &stance
	}
	if s.Arguments != nil {
		out.Arguments = append([]Argument(nil), s.Arguments...)
	}
	if s.Paragraphs != nil {
		out.Paragraphs = append([]Paragraph(nil), s.Paragraphs...)
	}
	if s.History != nil {
		out.History = append([]Message(nil), s.History...)
	}
	return out
}

// AcceptedArguments returns the number of accepted arguments.
func (s *Session) AcceptedArguments() int {
	n := 0
	for _, a := range s.Arguments {
		if a.Status == ArgumentAccepted {
			n++
		}
	}
	return n
}

// MemoryKey returns the key used to look up persisted preferences.
func (s *Session) MemoryKey() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.ID
}
