// Package domain contains core domain types for the writing coach.
package domain

import (
	"time"
)

// User represents an anonymous per-device user.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the user has been inactive as of now.
func (u *User) IdleFor(now time.Time) time.Duration {
	if u.LastSeenAt.IsZero() || now.Before(u.LastSeenAt) {
		return 0
	}
	return now.Sub(u.LastSeenAt)
}

// Essay is the finished artifact delivered by the write tool.
type Essay struct {
	ID         int64     `json:"id,omitempty"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Topic      string    `json:"topic"`
	Paragraphs []string  `json:"paragraphs"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}
