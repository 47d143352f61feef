package domain

import "time"

// HistoryKind classifies a history entry.
type HistoryKind string

const (
	HistoryKindChat       HistoryKind = "chat"
	HistoryKindCompletion HistoryKind = "completion"
)

// ExchangeStatus is the outcome of a completion exchange.
type ExchangeStatus string

const (
	StatusSuccess ExchangeStatus = "success"
	StatusError   ExchangeStatus = "error"
)

// HistoryEntry is the durable record of one completed exchange.
type HistoryEntry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Kind         HistoryKind    `json:"type"`
	Model        string         `json:"model"`
	Title        string         `json:"title"`
	TokensUsed   int64          `json:"tokens_used"`
	ResponseTime float64        `json:"response_time"`
	Status       ExchangeStatus `json:"status"`
	Turns        []Turn         `json:"messages,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	Completion   string         `json:"completion,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HistoryStats aggregates a user's history.
type HistoryStats struct {
	TotalEntries    int64   `json:"total_entries"`
	TotalTokens     int64   `json:"total_tokens"`
	SuccessCount    int64   `json:"success_count"`
	ErrorCount      int64   `json:"error_count"`
	SuccessRate     float64 `json:"success_rate"` // percent of all entries
	AvgResponseTime float64 `json:"avg_response_time"`
}
