// Package completion adapts chat turns to an external chat-completions backend.
package completion

import (
	"errors"

	"github.com/ashureev/chatdesk/internal/domain"
)

// ErrCredentialMissing is returned when neither a user credential nor a
// process default is configured. No network call is attempted.
var ErrCredentialMissing = errors.New("no API key available: provide an API key in settings")

// Message is one role-tagged entry sent to the backend.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// MessagesFromTurns maps thread turns, in order, to backend messages.
func MessagesFromTurns(turns []domain.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: t.Role(), Content: t.Content})
	}
	return out
}

// Options selects the model and credential for one call.
type Options struct {
	Model      string
	Credential *string
}

// Result is the normalized outcome of a completion call. A backend failure
// is reported as Status error with a readable Content, not as a Go error.
type Result struct {
	Content      string                `json:"content"`
	TokensUsed   int64                 `json:"tokens_used"`
	ResponseTime float64               `json:"response_time"`
	Model        string                `json:"model"`
	Status       domain.ExchangeStatus `json:"status"`
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Status == domain.StatusSuccess
}

// Request is what the gateway hands to a Backend.
type Request struct {
	APIKey      string
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is what a Backend returns on success.
type Response struct {
	Content     string
	TotalTokens int64
	Model       string
}
