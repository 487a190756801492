package coach

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartSweeper looks for abandoned sessions.
const DefaultSweepInterval = 5 * time.Minute

// CleanupCallback is called for every session the sweeper discards.
type CleanupCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically discards
// sessions idle for longer than ttl.
func (s *Service) StartSweeper(ctx context.Context, interval, ttl time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep discards every session idle for longer than ttl and returns how many
// were removed. Sessions with a turn in flight are left for the next sweep.
func (s *Service) Sweep(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) int {
	s.pruneGone(ttl)

	expired, err := s.store.GetExpiredSessions(ctx, ttl)
	if err != nil {
		s.logger.Error("Session sweeper failed to list expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	s.logger.Info("Session sweeper found expired sessions", "count", len(expired))

	cleaned := 0
	for _, id := range expired {
		s.mu.Lock()
		l, isLive := s.sessions[id]
		s.mu.Unlock()

		var userID string
		if isLive {
			if !l.turn.TryLock() {
				s.logger.Debug("Session sweeper skipping busy session", "session_id", id)
				continue
			}
			session, _, _ := l.snapshot()
			userID = session.UserID
			s.discard(ctx, id)
			l.turn.Unlock()
		} else {
			s.discard(ctx, id)
		}

		cleaned++
		s.log.Log(ConversationLogEvent{
			UserID: userID, SessionID: id, Channel: "coach", Direction: "internal",
			EventType: "session_expired",
		})
		s.publish(Event{Type: EventExpired, SessionID: id, UserID: userID})
		if onCleanup != nil {
			onCleanup(id)
		}
	}

	s.logger.Info("Session sweeper cleanup completed", "cleaned", cleaned)
	return cleaned
}

// pruneGone forgets discarded session IDs older than ttl. Their snapshots
// were deleted long before.
func (s *Service) pruneGone(ttl time.Duration) {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.gone {
		if at.Before(cutoff) {
			delete(s.gone, id)
		}
	}
}
