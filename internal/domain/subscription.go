package domain

import "time"

// FreePlanID identifies the default plan.
const FreePlanID = "free"

// DefaultFreeTierTokens is the monthly ceiling when no subscription applies.
const DefaultFreeTierTokens int64 = 10000

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCanceled, SubscriptionExpired:
		return true
	}
	return false
}

// Subscription is a user's current plan.
type Subscription struct {
	UserID           string             `json:"-"`
	PlanID           string             `json:"plan_id"`
	Status           SubscriptionStatus `json:"status"`
	TokenLimit       int64              `json:"token_limit"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	UpdatedAt        time.Time          `json:"-"`
}

// Active reports whether the subscription grants its plan limit at now.
func (s *Subscription) Active(now time.Time) bool {
	if s == nil || s.TokenLimit <= 0 || s.Status != SubscriptionActive {
		return false
	}
	return s.CurrentPeriodEnd.IsZero() || !now.After(s.CurrentPeriodEnd)
}

// Ceiling returns the effective monthly token ceiling at now. Inactive or
// lapsed subscriptions fall back to freeTier.
func (s *Subscription) Ceiling(now time.Time, freeTier int64) int64 {
	if !s.Active(now) {
		return freeTier
	}
	return s.TokenLimit
}

// Plan is an entry in the pricing catalog.
type Plan struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Price       float64  `json:"price" yaml:"price"`
	Interval    string   `json:"interval" yaml:"interval"`
	TokenLimit  int64    `json:"token_limit" yaml:"token_limit"`
	Highlighted bool     `json:"highlighted,omitempty" yaml:"highlighted"`
	Features    []string `json:"features" yaml:"features"`
}
