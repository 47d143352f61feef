package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// clientMessage is what a tab may send over the socket.
type clientMessage struct {
	Type string `json:"type"`
}

// serverMessage wraps control frames; events are sent as-is.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// Handler upgrades requests to WebSocket and streams the user's events.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	sub := h.hub.Register(userID, sessionID)
	defer h.hub.Unregister(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID, pongs)
	}()

	if err := writeJSON(ctx, ws, serverMessage{Type: "ready", SessionID: sessionID}); err != nil {
		return
	}
	h.writeLoop(ctx, ws, sub, pongs)
	slog.Info("Live session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop only handles pings; the socket is otherwise one-way.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string, pongs chan<- struct{}) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writeLoop owns all writes to ws.
func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscriber, pongs <-chan struct{}) {
	for {
		var v interface{}
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-pongs:
			v = serverMessage{Type: "pong"}
		case ev := <-sub.Events():
			v = ev
		}
		if err := writeJSON(ctx, ws, v); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}
