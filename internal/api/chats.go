package api

import (
	"net/http"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/go-chi/chi/v5"
)

type chatListResponse struct {
	Chats        []domain.Thread `json:"chats"`
	ActiveChatID int64           `json:"active_chat_id,omitempty"`
}

type chatResponse struct {
	domain.Thread
	Busy   bool `json:"busy"`
	Active bool `json:"active"`
}

type updateChatRequest struct {
	Title *string `json:"title"`
	Model *string `json:"model"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// ListChats returns every chat in creation order.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	JSON(w, http.StatusOK, chatListResponse{Chats: st.Threads(), ActiveChatID: st.ActiveID()})
}

// CreateChat starts an empty chat and makes it active.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	th := st.NewThread(r.Context())
	JSON(w, http.StatusCreated, chatResponse{Thread: th, Active: true})
}

// GetChat returns one chat with its messages.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	id, err := chatIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	th, err := st.Thread(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chatResponse{Thread: th, Busy: st.Busy(id), Active: st.ActiveID() == id})
}

// UpdateChat renames a chat or changes its model.
func (h *Handler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	id, err := chatIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == nil && req.Model == nil {
		Error(w, http.StatusBadRequest, "nothing to update")
		return
	}

	th, err := st.Thread(id)
	if req.Title != nil && err == nil {
		th, err = st.RenameThread(r.Context(), id, *req.Title)
	}
	if req.Model != nil && err == nil {
		th, err = st.SetThreadModel(r.Context(), id, *req.Model)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chatResponse{Thread: th, Busy: st.Busy(id), Active: st.ActiveID() == id})
}

// ActivateChat selects the chat that "active" sends go to.
func (h *Handler) ActivateChat(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}
	id, err := chatIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := st.SetActive(id); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"active_chat_id": id})
}

// SendMessage runs the send workflow. The route without a chat ID targets
// the active chat, creating one if none is active.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	_, st := h.userStore(w, r)
	if st == nil {
		return
	}

	var id int64
	if chi.URLParam(r, "chatID") != "" {
		var err error
		if id, err = chatIDParam(r); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := st.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
