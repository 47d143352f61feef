// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// ErrNotFound is returned when a scoped delete matches no row.
var ErrNotFound = errors.New("not found")

// UserStore persists anonymous user identities.
type UserStore interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// SnapshotStore persists per-user conversation snapshots.
type SnapshotStore interface {
	// GetSnapshot returns the stored snapshot, or nil, nil if none exists.
	GetSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error)

	// SaveSnapshot stores snap unless a snapshot with a newer version is
	// already stored.
	SaveSnapshot(ctx context.Context, userID string, snap *domain.Snapshot) error
}

// HistoryStore is the append-only per-user history collection.
type HistoryStore interface {
	InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error

	// ListHistory returns entries newest first. limit <= 0 means no limit.
	ListHistory(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)

	// DeleteHistory removes one entry. Returns ErrNotFound if the entry does
	// not exist for that user.
	DeleteHistory(ctx context.Context, userID, id string) error

	// ClearHistory removes all entries for a user.
	ClearHistory(ctx context.Context, userID string) (int64, error)

	HistoryStats(ctx context.Context, userID string) (*domain.HistoryStats, error)
}

// SubscriptionStore persists per-user subscriptions.
type SubscriptionStore interface {
	// GetSubscription returns nil, nil if the user has no subscription row.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
}

// Repository bundles every persistence concern behind one handle.
type Repository interface {
	UserStore
	SnapshotStore
	HistoryStore
	SubscriptionStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
