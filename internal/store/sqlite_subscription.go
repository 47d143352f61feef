package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// GetSubscription retrieves a user's subscription row.
func (s *SQLiteStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
		SELECT user_id, plan_id, status, token_limit, current_period_end, updated_at
		FROM subscriptions WHERE user_id = ?`

	var sub domain.Subscription
	var status string
	var periodEnd, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.UserID, &sub.PlanID, &status, &sub.TokenLimit, &periodEnd, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Status = domain.SubscriptionStatus(status)
	sub.CurrentPeriodEnd = time.Unix(periodEnd, 0)
	sub.UpdatedAt = time.Unix(updatedAt, 0)
	return &sub, nil
}

// UpsertSubscription creates or replaces a user's subscription.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, plan_id, status, token_limit, current_period_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			token_limit = excluded.token_limit,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		sub.UserID, sub.PlanID, string(sub.Status), sub.TokenLimit,
		sub.CurrentPeriodEnd.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
