// Package api provides HTTP handlers for the chatdesk API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ashureev/chatdesk/internal/conversation"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 64 << 10

// HistoryService is the history surface the API exposes.
type HistoryService interface {
	List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)
	Delete(ctx context.Context, userID, id string) error
	Clear(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context, userID string) (*domain.HistoryStats, error)
}

// PlanSource resolves plans and per-user subscriptions.
type PlanSource interface {
	Get(ctx context.Context, userID string) *domain.Subscription
	Plans() []domain.Plan
}

// Handler provides common handler utilities.
type Handler struct {
	users   store.UserStore
	chats   *conversation.Manager
	history HistoryService
	plans   PlanSource
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(users store.UserStore, chats *conversation.Manager, history HistoryService, plans PlanSource) *Handler {
	return &Handler{
		users:   users,
		chats:   chats,
		history: history,
		plans:   plans,
	}
}

// RegisterRoutes registers the API routes. sendLimit wraps the message
// routes; pass nil to leave them unthrottled.
func (h *Handler) RegisterRoutes(r chi.Router, sendLimit func(http.Handler) http.Handler) {
	if sendLimit == nil {
		sendLimit = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/plans", h.ListPlans)
		r.Get("/subscription", h.GetSubscription)
		r.Get("/quota", h.GetQuota)
		r.Post("/quota/reset", h.ResetQuota)
		r.Put("/credential", h.PutCredential)
		r.Delete("/credential", h.DeleteCredential)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", h.ListChats)
			r.Post("/", h.CreateChat)
			r.With(sendLimit).Post("/active/messages", h.SendMessage)
			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", h.GetChat)
				r.Patch("/", h.UpdateChat)
				r.Post("/activate", h.ActivateChat)
				r.With(sendLimit).Post("/messages", h.SendMessage)
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Delete("/", h.ClearHistory)
			r.Get("/stats", h.HistoryStats)
			r.Delete("/{entryID}", h.DeleteHistoryEntry)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// userStore resolves the caller's conversation store, writing an error
// response and returning nil when it cannot.
func (h *Handler) userStore(w http.ResponseWriter, r *http.Request) (string, *conversation.Store) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", nil
	}
	st, err := h.chats.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return "", nil
	}
	return userID, st
}

func chatIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidChatID
	}
	return id, nil
}

var errInvalidChatID = errors.New("invalid chat id")
