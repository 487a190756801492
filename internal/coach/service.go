package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/gateway"
	"github.com/ashureev/writecoach/internal/intent"
	"github.com/ashureev/writecoach/internal/memory"
	"github.com/ashureev/writecoach/internal/metrics"
	"github.com/ashureev/writecoach/internal/prompt"
	"github.com/ashureev/writecoach/internal/workflow"
)

// Deps are the collaborators of a Service. Gateway and Store are required.
type Deps struct {
	Gateway    gateway.Gateway
	Store      SessionStore
	Classifier intent.Classifier
	Memory     memory.Provider
	Log        ConversationLogger
	Metrics    *metrics.Metrics
	// Events receives session events. Sends never block; events are dropped
	// when the channel is full.
	Events chan<- Event
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// live is a session held in memory. turn serializes turns and Deliver; mu
// guards the remaining fields.
type live struct {
	turn sync.Mutex

	mu        sync.Mutex
	session   domain.Session
	doc       prompt.Document
	cancel    context.CancelFunc
	discarded bool
}

func (l *live) snapshot() (domain.Session, prompt.Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Clone(), l.doc, l.discarded
}

// Service runs coaching sessions. Independent sessions proceed in parallel;
// turns on one session are strictly sequential.
type Service struct {
	gateway    gateway.Gateway
	store      SessionStore
	classifier intent.Classifier
	memory     memory.Provider
	machine    *workflow.Machine
	log        ConversationLogger
	metrics    *metrics.Metrics
	events     chan<- Event
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu       sync.Mutex
	sessions map[string]*live
	// gone records discarded session IDs so a snapshot still being deleted
	// is never restored. Entries are pruned by Sweep.
	gone map[string]time.Time
}

// NewService creates a coaching service.
func NewService(deps Deps) (*Service, error) {
	if deps.Gateway == nil {
		return nil, errors.New("coach: gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("coach: store is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewRules()
	}
	if deps.Memory == nil {
		deps.Memory = memory.Static{Snapshot: domain.NoMemory()}
	}
	if deps.Log == nil {
		deps.Log = noopConversationLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	return &Service{
		gateway:    deps.Gateway,
		store:      deps.Store,
		classifier: deps.Classifier,
		memory:     deps.Memory,
		machine:    workflow.NewMachine(),
		log:        deps.Log,
		metrics:    deps.Metrics,
		events:     deps.Events,
		logger:     deps.Logger,
		now:        deps.Now,
		newID:      deps.NewID,
		sessions:   make(map[string]*live),
		gone:       make(map[string]time.Time),
	}, nil
}

// Start creates a session in CollectStance. The memory snapshot is taken
// here, once, and never refreshed; a provider failure starts the session
// without memory.
func (s *Service) Start(ctx context.Context, userID, topic string) (domain.Session, error) {
	id := s.newID()
	key := userID
	if key == "" {
		key = id
	}

	snap, err := s.memory.Get(ctx, key)
	if err != nil {
		s.logger.Warn("memory lookup failed, starting without preferences",
			"session_id", id, "user_id", userID, "error", err)
		snap = domain.NoMemory()
	}

	session := domain.NewSession(id, userID, strings.TrimSpace(topic), snap, s.now())
	if err := s.store.UpsertSession(ctx, &session); err != nil {
		return domain.Session{}, fmt.Errorf("persist new session: %w", err)
	}

	s.mu.Lock()
	s.sessions[id] = &live{session: session, doc: prompt.Assemble(snap)}
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetLiveSessions(count)

	s.logger.Info("Coaching session started",
		"session_id", id, "user_id", userID, "memory", snap.Present())
	s.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  id,
		Channel:    "coach",
		Direction:  "internal",
		EventType:  "session_started",
		Phase:      string(session.Phase),
		ContentRaw: session.Topic,
	})
	return session.Clone(), nil
}

// Get returns a copy of the session.
func (s *Service) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	session, _, discarded := l.snapshot()
	if discarded {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Instructions returns the instruction document assembled for the session.
func (s *Service) Instructions(ctx context.Context, sessionID string) (prompt.Document, error) {
	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return prompt.Document{}, err
	}
	_, doc, discarded := l.snapshot()
	if discarded {
		return prompt.Document{}, ErrSessionNotFound
	}
	return doc, nil
}

// Turn runs one conversation turn. On any error the session is unchanged.
func (s *Service) Turn(ctx context.Context, sessionID, message string) (TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if !l.turn.TryLock() {
		s.metrics.Turn("busy")
		return TurnResult{}, ErrTurnInProgress
	}
	defer l.turn.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if l.discarded {
		l.mu.Unlock()
		return TurnResult{}, ErrSessionNotFound
	}
	l.cancel = cancel
	current := l.session.Clone()
	doc := l.doc
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
	}()

	s.log.Log(ConversationLogEvent{
		UserID: current.UserID, SessionID: sessionID, Channel: "coach", Direction: "outbound",
		EventType: "user_message", Phase: string(current.Phase), ContentRaw: message,
	})

	userMsg := domain.Message{Role: domain.RoleUser, Content: message}
	history := append(append([]domain.Message(nil), current.History...), userMsg)

	started := time.Now()
	reply, err := s.gateway.Complete(turnCtx, doc, history)
	s.metrics.Gateway(time.Since(started), err)
	if err != nil {
		if l.isDiscarded() {
			return TurnResult{}, ErrSessionCancelled
		}
		s.metrics.Turn("unavailable")
		s.logger.Warn("completion gateway failed", "session_id", sessionID, "phase", current.Phase, "error", err)
		if !errors.Is(err, workflow.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %w", workflow.ErrGatewayUnavailable, err)
		}
		return TurnResult{}, err
	}

	next := current
	var applied []string
	next, applied = s.apply(turnCtx, next, domain.RoleUser, message, applied)
	next, applied = s.apply(turnCtx, next, domain.RoleAssistant, reply.Text, applied)

	var essay *domain.Essay
	if reply.ToolCall != nil {
		essay = s.handleToolCall(next, reply.ToolCall)
	}

	next.History = append(history, domain.Message{Role: domain.RoleAssistant, Content: reply.Text})
	next.UpdatedAt = s.now()

	result := TurnResult{
		SessionID: sessionID,
		Reply:     reply.Text,
		Phase:     next.Phase,
		Clarify:   len(applied) == 0 && essay == nil,
		Applied:   applied,
		Essay:     essay,
	}

	if err := s.commit(ctx, l, next, essay); err != nil {
		s.metrics.Turn("error")
		return TurnResult{}, err
	}

	s.log.Log(ConversationLogEvent{
		UserID: next.UserID, SessionID: sessionID, Channel: "coach", Direction: "inbound",
		EventType: "assistant_message", Phase: string(next.Phase), ContentRaw: reply.Text,
		Meta: map[string]any{"applied": applied, "clarify": result.Clarify, "delivered": essay != nil},
	})

	if essay != nil {
		s.metrics.Turn("delivered")
		s.publish(Event{Type: EventDelivered, SessionID: sessionID, UserID: next.UserID, Phase: next.Phase, Content: essay.Text})
	} else {
		if result.Clarify {
			s.metrics.Turn("clarify")
		} else {
			s.metrics.Turn("ok")
		}
		s.publish(Event{Type: EventTurn, SessionID: sessionID, UserID: next.UserID, Phase: next.Phase, Content: reply.Text, Clarify: result.Clarify})
	}
	return result, nil
}

// apply classifies text against the session and runs every resulting intent
// through the machine. Refused intents are recorded and skipped.
func (s *Service) apply(ctx context.Context, session domain.Session, speaker domain.Role, text string, applied []string) (domain.Session, []string) {
	intents, err := s.classifier.Classify(ctx, intent.Utterance{Session: session, Speaker: speaker, Text: text})
	if err != nil {
		s.logger.Warn("intent classification failed",
			"session_id", session.ID, "phase", session.Phase, "speaker", speaker, "error", err)
		return session, applied
	}

	for _, in := range intents {
		next, out := s.machine.Advance(session, in)
		switch {
		case out.Err != nil:
			s.metrics.NoOp(string(out.From), string(in.Kind))
			s.logger.Error("workflow transition refused",
				"session_id", session.ID, "phase", out.From, "intent", in.String(), "error", out.Err)
		case !out.Applied:
			s.metrics.NoOp(string(out.From), string(in.Kind))
			s.logger.Debug("intent had no effect",
				"session_id", session.ID, "phase", out.From, "intent", in.String(), "reason", out.Reason)
		default:
			s.metrics.Transition(string(out.From), string(out.To))
			if out.Moved() {
				s.logger.Info("Phase transition",
					"session_id", session.ID, "from", out.From, "to", out.To, "intent", in.Kind)
			}
			session = next
			applied = append(applied, in.String())
		}
	}
	return session, applied
}

// handleToolCall delivers the essay when the model calls the write tool in
// Done. Any other call is a protocol violation and is dropped.
func (s *Service) handleToolCall(session domain.Session, call *gateway.ToolCall) *domain.Essay {
	if call.Name != workflow.ToolName {
		s.metrics.Tool("unknown")
		s.logger.Warn("model called an unknown tool", "session_id", session.ID, "tool", call.Name)
		return nil
	}

	payload, err := workflow.Deliver(session)
	if err != nil {
		if errors.Is(err, workflow.ErrToolInvocationOutOfPhase) {
			s.metrics.Tool("out_of_phase")
			s.logger.Warn("protocol violation: write tool called before the essay was approved",
				"session_id", session.ID, "phase", session.Phase)
		} else {
			s.metrics.Tool("invalid")
			s.logger.Error("write tool refused", "session_id", session.ID, "error", err)
		}
		return nil
	}

	s.metrics.Tool("delivered")
	return s.essayFrom(session, payload)
}

func (s *Service) essayFrom(session domain.Session, payload workflow.Payload) *domain.Essay {
	return &domain.Essay{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Topic:      session.Topic,
		Paragraphs: payload.Paragraphs,
		Text:       payload.Text(),
		CreatedAt:  s.now(),
	}
}

// commit persists the turn and swaps it into the registry. A delivered essay
// ends the session.
func (s *Service) commit(ctx context.Context, l *live, next domain.Session, essay *domain.Essay) error {
	if l.isDiscarded() {
		return ErrSessionCancelled
	}

	if essay != nil {
		if err := s.store.SaveEssay(ctx, essay); err != nil {
			return fmt.Errorf("persist essay: %w", err)
		}
		s.discard(ctx, next.ID)
		s.logger.Info("Essay delivered", "session_id", next.ID, "user_id", next.UserID, "paragraphs", len(essay.Paragraphs))
		return nil
	}

	if err := s.store.UpsertSession(ctx, &next); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	l.mu.Lock()
	if l.discarded {
		l.mu.Unlock()
		// Cancel won the race; drop the snapshot written above.
		if err := s.store.DeleteSession(context.WithoutCancel(ctx), next.ID); err != nil {
			s.logger.Warn("failed to delete session snapshot", "session_id", next.ID, "error", err)
		}
		return ErrSessionCancelled
	}
	l.session = next
	l.mu.Unlock()
	return nil
}

// Deliver invokes the write tool on behalf of the caller. It fails with
// workflow.ErrToolInvocationOutOfPhase unless the session is done, leaving
// the session untouched.
func (s *Service) Deliver(ctx context.Context, sessionID string) (*domain.Essay, error) {
	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !l.turn.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer l.turn.Unlock()

	session, _, discarded := l.snapshot()
	if discarded {
		return nil, ErrSessionNotFound
	}

	payload, err := workflow.Deliver(session)
	if err != nil {
		if errors.Is(err, workflow.ErrToolInvocationOutOfPhase) {
			s.metrics.Tool("out_of_phase")
		} else {
			s.metrics.Tool("invalid")
		}
		return nil, err
	}
	s.metrics.Tool("delivered")

	essay := s.essayFrom(session, payload)
	if err := s.commit(ctx, l, session, essay); err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventDelivered, SessionID: sessionID, UserID: session.UserID, Phase: session.Phase, Content: essay.Text})
	return essay, nil
}

// Cancel discards the session. An in-flight turn is aborted and fails with
// ErrSessionCancelled.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	session, _, _ := l.snapshot()
	if !s.discard(ctx, sessionID) {
		return ErrSessionNotFound
	}

	s.logger.Info("Coaching session cancelled", "session_id", sessionID, "phase", session.Phase)
	s.log.Log(ConversationLogEvent{
		UserID: session.UserID, SessionID: sessionID, Channel: "coach", Direction: "internal",
		EventType: "session_cancelled", Phase: string(session.Phase),
	})
	s.publish(Event{Type: EventCancelled, SessionID: sessionID, UserID: session.UserID, Phase: session.Phase})
	return nil
}

// discard removes the session from memory and storage. It reports whether
// this call performed the discard.
func (s *Service) discard(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	l, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.gone[sessionID] = s.now()
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetLiveSessions(count)

	if ok {
		l.mu.Lock()
		if l.discarded {
			ok = false
		}
		l.discarded = true
		if l.cancel != nil {
			l.cancel()
		}
		l.mu.Unlock()
	}

	// The store delete must not depend on a request context that may already be done.
	if err := s.store.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Warn("failed to delete session snapshot", "session_id", sessionID, "error", err)
	}
	return ok
}

// lookup returns the live session, loading a persisted snapshot if needed.
func (s *Service) lookup(ctx context.Context, sessionID string) (*live, error) {
	s.mu.Lock()
	l, ok := s.sessions[sessionID]
	_, gone := s.gone[sessionID]
	s.mu.Unlock()
	if ok {
		return l, nil
	}
	if gone {
		return nil, ErrSessionNotFound
	}

	persisted, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if persisted == nil {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.sessions[sessionID]; ok {
		return l, nil
	}
	if _, gone := s.gone[sessionID]; gone {
		return nil, ErrSessionNotFound
	}
	l = &live{session: *persisted, doc: prompt.Assemble(persisted.Memory)}
	s.sessions[sessionID] = l
	s.metrics.SetLiveSessions(len(s.sessions))
	s.logger.Debug("session restored from store", "session_id", sessionID, "phase", persisted.Phase)
	return l, nil
}

// LiveSessions returns the number of sessions held in memory.
func (s *Service) LiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) publish(e Event) {
	if s.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn("event channel full, dropping event", "session_id", e.SessionID, "type", e.Type)
	}
}

func (l *live) isDiscarded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discarded
}

// Close releases the conversation logger.
func (s *Service) Close() error {
	return s.log.Close()
}
