package domain

import (
	"time"
)

// DefaultThreadTitle is the label given to newly created threads.
const DefaultThreadTitle = "New Chat"

// Role tags a message for the completion backend.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a thread.
type Turn struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// Role returns the backend role for the turn's author.
func (t Turn) Role() Role {
	if t.IsUser {
		return RoleUser
	}
	return RoleAssistant
}

// Thread is one ongoing conversation.
type Thread struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Turns      []Turn    `json:"messages"`
	Model      string    `json:"model"`
	TokensUsed int64     `json:"tokens_used"`
	LastActive time.Time `json:"last_active"`
}

// Clone returns a deep copy so callers can read it without holding locks.
func (t *Thread) Clone() Thread {
	out := *t
	out.Turns = make([]Turn, len(t.Turns))
	copy(out.Turns, t.Turns)
	return out
}

// IndexOfTurn returns the position of the turn with the given ID, or -1.
func (t *Thread) IndexOfTurn(id int64) int {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].ID == id {
			return i
		}
	}
	return -1
}

// RemoveTurn deletes the turn with the given ID and reports whether it existed.
func (t *Thread) RemoveTurn(id int64) bool {
	i := t.IndexOfTurn(id)
	if i < 0 {
		return false
	}
	t.Turns = append(t.Turns[:i], t.Turns[i+1:]...)
	return true
}
