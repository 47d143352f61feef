package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/store"
)

// DefaultPeriod is the billing period length assumed for new subscriptions.
const DefaultPeriod = 30 * 24 * time.Hour

// Source reads and writes per-user subscriptions.
type Source struct {
	repo     store.SubscriptionStore
	catalog  *Catalog
	freeTier int64
	now      func() time.Time
}

// NewSource creates a subscription source. freeTier overrides the free plan's
// limit when positive.
func NewSource(repo store.SubscriptionStore, catalog *Catalog, freeTier int64) *Source {
	if freeTier <= 0 {
		freeTier = catalog.FreeTokens()
	}
	return &Source{repo: repo, catalog: catalog, freeTier: freeTier, now: time.Now}
}

// Catalog returns the plan catalog.
func (s *Source) Catalog() *Catalog { return s.catalog }

// Plans returns the plan catalog in display order.
func (s *Source) Plans() []domain.Plan { return s.catalog.Plans() }

// FreeTier returns the ceiling applied when no subscription is active.
func (s *Source) FreeTier() int64 { return s.freeTier }

// Default returns the implicit free subscription.
func (s *Source) Default(userID string) *domain.Subscription {
	return &domain.Subscription{
		UserID:           userID,
		PlanID:           domain.FreePlanID,
		Status:           domain.SubscriptionActive,
		TokenLimit:       s.freeTier,
		CurrentPeriodEnd: s.now().Add(DefaultPeriod),
	}
}

// Get returns the user's subscription. A missing row or a read failure yields
// the free plan; lookups never fail the caller.
func (s *Source) Get(ctx context.Context, userID string) *domain.Subscription {
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		slog.Warn("Subscription lookup failed, using free tier", "user_id", userID, "error", err)
		return s.Default(userID)
	}
	if sub == nil {
		return s.Default(userID)
	}
	return sub
}

// Set places a user on planID for one period from now.
func (s *Source) Set(ctx context.Context, userID, planID string, status domain.SubscriptionStatus) (*domain.Subscription, error) {
	plan, ok := s.catalog.Plan(planID)
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", planID)
	}
	if status == "" {
		status = domain.SubscriptionActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid subscription status %q", status)
	}

	sub := &domain.Subscription{
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           status,
		TokenLimit:       plan.TokenLimit,
		CurrentPeriodEnd: s.now().Add(DefaultPeriod),
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription for %s: %w", userID, err)
	}

	slog.Info("Subscription updated", "user_id", userID, "plan_id", plan.ID, "status", status)
	return sub, nil
}
