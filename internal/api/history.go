package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// ListHistory returns the caller's history, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.List(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// HistoryStats aggregates the caller's history.
func (h *Handler) HistoryStats(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.history.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// DeleteHistoryEntry removes one history entry.
func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.history.Delete(r.Context(), userID, chi.URLParam(r, "entryID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory removes all of the caller's history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.history.Clear(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
