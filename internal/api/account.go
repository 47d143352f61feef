package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
)

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type credentialResponse struct {
	HasCredential bool `json:"has_credential"`
}

type subscriptionResponse struct {
	*domain.Subscription
	Plan *domain.Plan `json:"plan,omitempty"`
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, st := h.userStore(w, r)
	if st == nil {
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	username := identity.UsernameFromContext(r.Context())
	if user != nil {
		username = user.Username
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        userID,
		"username":       username,
		"has_credential": st.HasCredential(),
		"active_chat_id": st.ActiveID(),
		"quota":          st.Quota(r.Context()),
	})
}

// ListPlans returns the pricing catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"plans": h.plans.Plans()})
}

// GetSubscription returns the caller's subscription, defaulting to the free plan.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sub := h.plans.Get(r.Context(), userID)
	resp := subscriptionResponse{Subscription: sub}
	for _, p := range h.plans.Plans() {
		if p.ID == sub.PlanID {
			plan := p
			resp.Plan = &plan
			break
		}
	}
	JSON(w, http.StatusOK, resp)
}

// GetQuota reports the monthly token counter, applying a due reset first.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	JSON(w, http.StatusOK, st.Quota(r.Context()))
}

// ResetQuota zeroes the caller's monthly token counter.
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	JSON(w, http.StatusOK, st.ResetTokenCount(r.Context()))
}

// PutCredential stores the caller's API key. The key is never echoed back.
func (h *Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}

	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		Error(w, http.StatusBadRequest, "api_key is required")
		return
	}

	st.SetCredential(r.Context(), &key)
	JSON(w, http.StatusOK, credentialResponse{HasCredential: true})
}

// DeleteCredential clears the caller's API key.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	st.SetCredential(r.Context(), nil)
	JSON(w, http.StatusOK, credentialResponse{HasCredential: false})
}
