package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/writecoach/internal/coach"
	"github.com/ashureev/writecoach/internal/config"
)

// SSEConnection represents a single SSE client connection.
type SSEConnection struct {
	ID          int64
	SessionID   string
	EventID     int64
	ConnectedAt time.Time
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
}

func (c *SSEConnection) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// SSEMessageQueue buffers recent events per session so reconnecting clients
// can replay what they missed. Each session has its own bounded list.
type SSEMessageQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// QueuedMessage represents a message in the queue.
type QueuedMessage struct {
	EventID   int64
	SessionID string
	Event     coach.Event
}

// NewSSEMessageQueue creates a new per-session message queue.
func NewSSEMessageQueue(maxSize int) *SSEMessageQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &SSEMessageQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue adds a message to the session's queue, evicting the oldest beyond maxSize.
func (q *SSEMessageQueue) Enqueue(sessionID string, eventID int64, ev coach.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[sessionID]
	if !ok {
		l = list.New()
		q.queues[sessionID] = l
	}
	l.PushBack(&QueuedMessage{EventID: eventID, SessionID: sessionID, Event: ev})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// GetMissedMessages retrieves messages after a specific event ID for a session.
func (q *SSEMessageQueue) GetMissedMessages(sessionID string, afterEventID int64) []*QueuedMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var missed []*QueuedMessage
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

// Prune drops the queue of a session.
func (q *SSEMessageQueue) Prune(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionID)
}

// EventHub fans coach events out to SSE subscribers of each session.
type EventHub struct {
	handler *Handler

	connectionsMu  sync.RWMutex
	sseConnections map[string]map[int64]*SSEConnection // sessionID -> connection ID -> connection
	messageQueue   *SSEMessageQueue

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64

	keepalive  time.Duration
	retryDelay time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

// NewEventHub creates a hub, attaches it to h and starts its broadcast loop
// over events.
func NewEventHub(h *Handler, events <-chan coach.Event, cfg *config.Config) *EventHub {
	hub := &EventHub{
		handler:        h,
		sseConnections: make(map[string]map[int64]*SSEConnection),
		keepalive:      10 * time.Second,
		retryDelay:     5 * time.Second,
		done:           make(chan struct{}),
	}
	replay := 100
	if cfg != nil {
		hub.keepalive = cfg.SSE.KeepaliveInterval
		hub.retryDelay = cfg.SSE.RetryDelay
		replay = cfg.SSE.ReplayBuffer
	}
	if hub.keepalive <= 0 {
		hub.keepalive = 10 * time.Second
	}
	hub.messageQueue = NewSSEMessageQueue(replay)
	if h != nil {
		h.SetEventHub(hub)
	}

	go hub.broadcastLoop(events)
	return hub
}

// Close stops the broadcast loop and ends every open stream.
func (hub *EventHub) Close() {
	hub.closeOnce.Do(func() {
		close(hub.done)
		hub.connectionsMu.Lock()
		defer hub.connectionsMu.Unlock()
		for _, conns := range hub.sseConnections {
			for _, c := range conns {
				c.close()
			}
		}
	})
}

func (hub *EventHub) nextEventID() int64 {
	hub.counterMu.Lock()
	defer hub.counterMu.Unlock()
	hub.eventCounter++
	return hub.eventCounter
}

func terminal(t coach.EventType) bool {
	return t == coach.EventDelivered || t == coach.EventCancelled || t == coach.EventExpired
}

// broadcastLoop distributes events to connected clients. Terminal events
// end the session's streams after delivery.
func (hub *EventHub) broadcastLoop(events <-chan coach.Event) {
	slog.Info("Event broadcast loop started")
	for {
		select {
		case <-hub.done:
			slog.Info("Event broadcast loop shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Event channel closed, shutting down broadcast loop")
				return
			}
			hub.dispatch(ev)
		}
	}
}

func (hub *EventHub) dispatch(ev coach.Event) {
	eventID := hub.nextEventID()
	hub.messageQueue.Enqueue(ev.SessionID, eventID, ev)

	// Snapshot connections to avoid holding the lock during writes.
	hub.connectionsMu.RLock()
	conns := make([]*SSEConnection, 0, len(hub.sseConnections[ev.SessionID]))
	for _, c := range hub.sseConnections[ev.SessionID] {
		conns = append(conns, c)
	}
	hub.connectionsMu.RUnlock()

	for _, conn := range conns {
		hub.sendToConnection(conn, eventID, ev)
	}

	if terminal(ev.Type) {
		for _, conn := range conns {
			conn.close()
		}
		hub.messageQueue.Prune(ev.SessionID)
		if hub.handler != nil {
			hub.handler.sockets.CloseSession(ev.SessionID, string(ev.Type))
		}
	}
}

// sendToConnection writes one event to a connection.
func (hub *EventHub) sendToConnection(conn *SSEConnection, eventID int64, ev coach.Event) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal SSE event", "error", err, "conn_id", conn.ID)
		return
	}
	if err := writeSSEWithID(conn.Writer, eventID, string(ev.Type), string(data)); err != nil {
		slog.Warn("Failed to write to SSE connection", "error", err, "conn_id", conn.ID, "session_id", conn.SessionID)
		return
	}
	conn.Flusher.Flush()
	conn.EventID = eventID
}

// HandleStream handles GET /api/sessions/{sessionID}/events. Clients may
// resume with Last-Event-ID (or ?lastEventId=) to replay buffered events.
func (hub *EventHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	session, ok := hub.handler.owned(w, r)
	if !ok {
		return
	}
	sessionID := session.ID

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", hub.retryDelay.Milliseconds())); err != nil {
		slog.Warn("Failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	hub.counterMu.Lock()
	hub.connectionID++
	connID := hub.connectionID
	hub.counterMu.Unlock()

	conn := &SSEConnection{
		ID:          connID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	hub.connectionsMu.Lock()
	if _, exists := hub.sseConnections[sessionID]; !exists {
		hub.sseConnections[sessionID] = make(map[int64]*SSEConnection)
	}
	hub.sseConnections[sessionID][connID] = conn
	hub.connectionsMu.Unlock()

	defer func() {
		// Writers must not touch w once the handler has returned.
		conn.mu.Lock()
		conn.close()
		conn.mu.Unlock()

		hub.connectionsMu.Lock()
		if conns, exists := hub.sseConnections[sessionID]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(hub.sseConnections, sessionID)
			}
		}
		hub.connectionsMu.Unlock()
		slog.Debug("SSE connection closed", "session_id", sessionID, "conn_id", connID)
	}()

	if lastEventID > 0 {
		for _, msg := range hub.messageQueue.GetMissedMessages(sessionID, lastEventID) {
			hub.sendToConnection(conn, msg.EventID, msg.Event)
		}
	}

	eventID := hub.nextEventID()
	connected := fmt.Sprintf(`{"status":"connected","session_id":%q,"phase":%q,"event_id":%d}`, sessionID, session.Phase, eventID)
	conn.mu.Lock()
	err := writeSSEWithID(w, eventID, "connected", connected)
	if err == nil {
		flusher.Flush()
		conn.EventID = eventID
	}
	conn.mu.Unlock()
	if err != nil {
		slog.Warn("Failed to write SSE connected event", "error", err, "session_id", sessionID)
		return
	}

	slog.Info("SSE connection established", "session_id", sessionID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(hub.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				slog.Debug("Failed to write SSE keepalive", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
