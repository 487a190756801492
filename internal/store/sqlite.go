package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
	retry     shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository. The special path
// ":memory:" opens a private in-memory database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for better concurrency.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coach_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_coach_sessions_updated ON coach_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS essays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		paragraphs_json TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_essays_user ON essays(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// GetPreference returns the user's persisted preference text.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM preferences WHERE user_id = ?`, userID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return text, true, nil
}

// PutPreference stores the user's preference text.
func (s *SQLiteStore) PutPreference(ctx context.Context, userID, text string) error {
	query := `
	INSERT INTO preferences (user_id, text, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "put preference", func() error {
		_, err := s.db.ExecContext(ctx, query, userID, text, time.Now().Unix())
		return err
	})
}

// DeletePreference forgets the user's preference text.
func (s *SQLiteStore) DeletePreference(ctx context.Context, userID string) error {
	return shared.RetryOnConflict(ctx, s.retry, "delete preference", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID)
		return err
	})
}

// GetSession retrieves a live coaching session snapshot.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM coach_sessions WHERE session_id = ?`, sessionID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan coach session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(stateJSON), &session); err != nil {
		return nil, fmt.Errorf("decode coach session %s: %w", sessionID, err)
	}
	return &session, nil
}

// UpsertSession creates or replaces a session snapshot.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	stateJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode coach session: %w", err)
	}

	query := `
		INSERT INTO coach_sessions (session_id, user_id, phase, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			phase = excluded.phase,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "upsert coach session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, string(session.Phase), string(stateJSON),
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		)
		return err
	})
}

// DeleteSession removes a session snapshot.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "delete coach session "+sessionID, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM coach_sessions WHERE session_id = ?`, sessionID)
		return err
	})
}

// GetExpiredSessions returns IDs of sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM coach_sessions WHERE updated_at < ? ORDER BY updated_at`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// CleanupExpiredSessions removes sessions idle for longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM coach_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// SaveEssay persists a delivered essay and assigns its ID.
func (s *SQLiteStore) SaveEssay(ctx context.Context, essay *domain.Essay) error {
	paragraphsJSON, err := json.Marshal(essay.Paragraphs)
	if err != nil {
		return fmt.Errorf("encode essay paragraphs: %w", err)
	}

	query := `
		INSERT INTO essays (session_id, user_id, topic, paragraphs_json, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "save essay", func() error {
		result, err := s.db.ExecContext(ctx, query,
			essay.SessionID, essay.UserID, essay.Topic, string(paragraphsJSON),
			essay.Text, essay.CreatedAt.Unix(),
		)
		if err != nil {
			return err
		}
		essay.ID, err = result.LastInsertId()
		return err
	})
}

// ListEssays returns the user's essays, newest first.
func (s *SQLiteStore) ListEssays(ctx context.Context, userID string) ([]*domain.Essay, error) {
	query := `
		SELECT id, session_id, user_id, topic, paragraphs_json, text, created_at
		FROM essays WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query essays: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close essay rows", "error", closeErr)
		}
	}()

	var essays []*domain.Essay
	for rows.Next() {
		var essay domain.Essay
		var paragraphsJSON string
		var createdAt int64
		if err := rows.Scan(
			&essay.ID, &essay.SessionID, &essay.UserID, &essay.Topic,
			&paragraphsJSON, &essay.Text, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan essay row: %w", err)
		}
		if err := json.Unmarshal([]byte(paragraphsJSON), &essay.Paragraphs); err != nil {
			return nil, fmt.Errorf("decode essay %d paragraphs: %w", essay.ID, err)
		}
		essay.CreatedAt = time.Unix(createdAt, 0)
		essays = append(essays, &essay)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate essays: %w", err)
	}
	return essays, nil
}
