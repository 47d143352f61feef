package domain

import "time"

// QuotaState is the monthly token-consumption counter and its reset bookkeeping.
type QuotaState struct {
	MonthlyTokens int64      `json:"monthly_tokens"`
	LastReset     *time.Time `json:"last_token_reset"`
}

// QuotaStatus is a read-only view of quota for callers.
type QuotaStatus struct {
	MonthlyTokens int64      `json:"monthly_tokens"`
	Ceiling       int64      `json:"ceiling"`
	Remaining     int64      `json:"remaining"`
	LastReset     *time.Time `json:"last_token_reset"`
	PlanID        string     `json:"plan_id"`
}
