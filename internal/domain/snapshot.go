package domain

import "time"

// Snapshot is the persisted shape of a user's conversation state.
// Active thread and busy flags are UI state and are not included.
type Snapshot struct {
	Version       int64      `json:"version"`
	Credential    *string    `json:"credential,omitempty"`
	MonthlyTokens int64      `json:"monthly_tokens"`
	LastReset     *time.Time `json:"last_token_reset"`
	Threads       []Thread   `json:"threads"`
}
