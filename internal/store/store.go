// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/writecoach/internal/domain"
)

// Repository persists users, their preferences, live coaching sessions and
// finished essays. Getters return (nil, nil) when the record does not exist.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetPreference returns the user's persisted preference text. ok is false
	// when nothing was ever stored, which is distinct from stored empty text.
	GetPreference(ctx context.Context, userID string) (text string, ok bool, err error)

	// PutPreference stores the user's preference text.
	PutPreference(ctx context.Context, userID, text string) error

	// DeletePreference forgets the user's preference text.
	DeletePreference(ctx context.Context, userID string) error

	// GetSession retrieves a live coaching session snapshot.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpsertSession creates or replaces a session snapshot.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session snapshot.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetExpiredSessions returns IDs of sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// CleanupExpiredSessions removes sessions idle for longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveEssay persists a delivered essay and assigns its ID.
	SaveEssay(ctx context.Context, essay *domain.Essay) error

	// ListEssays returns the user's essays, newest first.
	ListEssays(ctx context.Context, userID string) ([]*domain.Essay, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
