// Package live streams conversation change events to connected browser tabs.
package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/chatdesk/internal/conversation"
)

// queueSize bounds each subscriber's pending events. A subscriber that falls
// this far behind starts losing events rather than stalling the publisher.
const queueSize = 64

// Subscriber is one connected tab.
type Subscriber struct {
	userID    string
	sessionID string
	events    chan conversation.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the subscriber's event queue.
func (s *Subscriber) Events() <-chan conversation.Event { return s.events }

// Done is closed when the subscriber is replaced or removed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans events out to every tab a user has open.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*Subscriber
}

var _ conversation.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*Subscriber),
	}
}

// Register adds a subscriber for a user/session. An existing subscriber for
// the same session is closed and replaced.
func (h *Hub) Register(userID, sessionID string) *Subscriber {
	sub := &Subscriber{
		userID:    userID,
		sessionID: sessionID,
		events:    make(chan conversation.Event, queueSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*Subscriber)
	}
	if existing, exists := h.active[userID][sessionID]; exists {
		existing.close()
	}
	h.active[userID][sessionID] = sub

	slog.Info("Live session registered", "user_id", userID, "session_id", sessionID)
	return sub
}

// Unregister removes sub if it is still the current subscriber for its session.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub.close()
	if sessions, ok := h.active[sub.userID]; ok {
		if current, exists := sessions[sub.sessionID]; exists && current == sub {
			delete(sessions, sub.sessionID)
			if len(sessions) == 0 {
				delete(h.active, sub.userID)
			}
			slog.Info("Live session unregistered", "user_id", sub.userID, "session_id", sub.sessionID)
		}
	}
}

// Publish queues ev for every tab the user has open. It never blocks.
func (h *Hub) Publish(userID string, ev conversation.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sid, sub := range h.active[userID] {
		select {
		case sub.events <- ev:
		default:
			slog.Warn("Live queue full, dropping event",
				"user_id", userID,
				"session_id", sid,
				"event", ev.Type)
		}
	}
}

// Count returns the number of open sessions for a user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// CloseUser drops every session a user has open.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.active[userID] {
		sub.close()
	}
	delete(h.active, userID)
}
