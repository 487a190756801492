// Package coach orchestrates essay-coaching sessions: it owns the live
// session registry, drives the completion gateway and applies classified
// intents through the workflow machine.
package coach

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/writecoach/internal/domain"
)

var (
	// ErrSessionNotFound means the session does not exist or was discarded.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnInProgress means another turn on the same session has not finished.
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")

	// ErrSessionCancelled means the session was cancelled while a turn was in flight.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrEmptyMessage means the turn carried no text.
	ErrEmptyMessage = errors.New("message is required")
)

// SessionStore is the persistence the service needs.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpsertSession(ctx context.Context, session *domain.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
	SaveEssay(ctx context.Context, essay *domain.Essay) error
}

// TurnResult is the outcome of one committed turn.
type TurnResult struct {
	SessionID string       `json:"session_id"`
	Reply     string       `json:"reply"`
	Phase     domain.Phase `json:"phase"`
	// Clarify is set when neither side of the turn advanced the workflow;
	// the caller should ask the user to rephrase.
	Clarify bool `json:"clarify"`
	// Applied lists the intents that changed the session, in order.
	Applied []string `json:"applied,omitempty"`
	// Essay is set when the write tool delivered the finished essay. The
	// session no longer exists afterwards.
	Essay *domain.Essay `json:"essay,omitempty"`
}

// EventType tags a session Event.
type EventType string

const (
	EventTurn      EventType = "turn"
	EventDelivered EventType = "delivered"
	EventCancelled EventType = "cancelled"
	EventExpired   EventType = "expired"
)

// Event is published to observers after a session changes.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	Phase     domain.Phase `json:"phase,omitempty"`
	Content   string       `json:"content,omitempty"`
	Clarify   bool         `json:"clarify,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
