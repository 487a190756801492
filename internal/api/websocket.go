package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/writecoach/internal/middleware"
)

// wsWriteTimeout bounds a single frame write.
const wsWriteTimeout = 10 * time.Second

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply is a server frame.
type wsReply struct {
	Type   string        `json:"type"`
	Result *turnResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Status int           `json:"status,omitempty"`
}

// ServeWebSocket handles GET /ws/sessions/{sessionID}: an interactive turn
// transport for one session.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := h.owned(w, r)
	if !ok {
		return
	}
	slog.Info("WebSocket connection request", "user_id", session.UserID, "session_id", session.ID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", session.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", session.ID)
		}
	}()

	h.sockets.Register(session.ID, ws)
	defer h.sockets.Unregister(session.ID, ws)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", session.ID)
			} else {
				slog.Debug("WebSocket read ended", "error", err, "session_id", session.ID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeWS(ctx, ws, wsReply{Type: "error", Error: "invalid message", Status: http.StatusBadRequest})
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeWS(ctx, ws, wsReply{Type: "pong"})
		case "turn":
			if !h.rateLimiter.Allow(session.UserID) {
				h.writeWS(ctx, ws, wsReply{Type: "error", Error: "rate limit exceeded", Status: http.StatusTooManyRequests})
				continue
			}
			res, err := h.coach.Turn(ctx, session.ID, msg.Content)
			if err != nil {
				status, text := statusFor(err)
				if status >= http.StatusInternalServerError {
					slog.Error("WebSocket turn failed", "session_id", session.ID, "status", status, "error", err)
				}
				h.writeWS(ctx, ws, wsReply{Type: "error", Error: text, Status: status})
				continue
			}
			out := newTurnResponse(res)
			h.writeWS(ctx, ws, wsReply{Type: "reply", Result: &out})
			if res.Essay != nil {
				h.sockets.CloseSession(session.ID, "essay delivered")
				return
			}
		default:
			h.writeWS(ctx, ws, wsReply{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest})
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg == nil || h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range middleware.ParseOrigins(h.cfg.AllowedOrigins) {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigins)
	return false
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, v wsReply) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal websocket frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write websocket frame", "error", err, "type", v.Type)
	}
}
