package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/conversation"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Ceiling   *int64 `json:"ceiling,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
}

// writeError maps workflow errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		quotaErr    *conversation.QuotaExceededError
		rejectedErr *conversation.CompletionRejectedError
		faultErr    *conversation.TransportFaultError
	)

	switch {
	case errors.As(err, &quotaErr):
		ceiling, remaining := quotaErr.Ceiling, quotaErr.Remaining
		w.Header().Set("X-Quota-Ceiling", strconv.FormatInt(ceiling, 10))
		JSON(w, http.StatusPaymentRequired, errorBody{
			Error: quotaErr.Error(), Code: "quota_exceeded", Ceiling: &ceiling, Remaining: &remaining,
		})
	case errors.Is(err, completion.ErrCredentialMissing):
		JSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "credential_missing"})
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, errInvalidChatID):
		JSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_request"})
	case errors.Is(err, conversation.ErrBusy):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "busy"})
	case errors.Is(err, conversation.ErrThreadNotFound), errors.Is(err, store.ErrNotFound):
		JSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.As(err, &rejectedErr):
		JSON(w, http.StatusBadGateway, errorBody{Error: rejectedErr.Message, Code: "completion_rejected"})
	case errors.As(err, &faultErr):
		JSON(w, http.StatusGatewayTimeout, errorBody{Error: faultErr.Error(), Code: "completion_failed"})
	default:
		slog.Error("Request failed",
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
			"error", err)
		JSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
	}
}
