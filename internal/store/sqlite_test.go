package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{
		UserID: "u1", Username: "anon-u1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.UpdateLastSeen(ctx, "u1", now.Add(time.Hour)))

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "anon-u1", got.Username)
	require.Equal(t, now.Add(time.Hour).Unix(), got.LastSeenAt.Unix())
}

func TestSnapshotVersioning(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, snap)

	key := "sk-test"
	reset := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := &domain.Snapshot{
		Version:       2,
		Credential:    &key,
		MonthlyTokens: 120,
		LastReset:     &reset,
		Threads: []domain.Thread{{
			ID: 1, Title: "New Chat", Model: "gpt-3.5-turbo",
			Turns: []domain.Turn{{ID: 10, Content: "hi", IsUser: true}},
		}},
	}
	require.NoError(t, s.SaveSnapshot(ctx, "u1", newer))

	// A stale write must not clobber the newer snapshot.
	require.NoError(t, s.SaveSnapshot(ctx, "u1", &domain.Snapshot{Version: 1, MonthlyTokens: 5}))

	got, err := s.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, int64(120), got.MonthlyTokens)
	require.Equal(t, "sk-test", *got.Credential)
	require.True(t, reset.Equal(*got.LastReset))
	require.Len(t, got.Threads, 1)
	require.Equal(t, "hi", got.Threads[0].Turns[0].Content)
}

func TestHistoryLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	entries := []*domain.HistoryEntry{
		{ID: "a", UserID: "u1", Kind: domain.HistoryKindChat, Model: "m", Title: "Chat Completion - 10 tokens",
			TokensUsed: 10, ResponseTime: 1.0, Status: domain.StatusSuccess, Prompt: "p1", Completion: "c1",
			Turns: []domain.Turn{{ID: 1, Content: "p1", IsUser: true}}, CreatedAt: base},
		{ID: "b", UserID: "u1", Kind: domain.HistoryKindChat, Model: "m", Title: "Chat Completion - 0 tokens",
			Status: domain.StatusError, ResponseTime: 3.0, Prompt: "p2", CreatedAt: base.Add(time.Second)},
		{ID: "c", UserID: "u2", Kind: domain.HistoryKindChat, Model: "m", Title: "other",
			TokensUsed: 99, Status: domain.StatusSuccess, CreatedAt: base},
	}
	for _, e := range entries {
		require.NoError(t, s.InsertHistory(ctx, e))
	}

	list, err := s.ListHistory(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].ID)
	require.Equal(t, "a", list[1].ID)
	require.Len(t, list[1].Turns, 1)
	require.Equal(t, "c1", list[1].Completion)

	limited, err := s.ListHistory(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	stats, err := s.HistoryStats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalEntries)
	require.Equal(t, int64(10), stats.TotalTokens)
	require.Equal(t, int64(1), stats.SuccessCount)
	require.Equal(t, int64(1), stats.ErrorCount)
	require.InDelta(t, 2.0, stats.AvgResponseTime, 1e-9)

	require.ErrorIs(t, s.DeleteHistory(ctx, "u1", "c"), ErrNotFound)
	require.NoError(t, s.DeleteHistory(ctx, "u1", "a"))

	n, err := s.ClearHistory(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	stats, err = s.HistoryStats(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, stats.TotalEntries)
	require.Zero(t, stats.AvgResponseTime)

	other, err := s.ListHistory(ctx, "u2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestSubscriptionUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)

	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{
		UserID: "u1", PlanID: "basic", Status: domain.SubscriptionActive, TokenLimit: 100000, CurrentPeriodEnd: end,
	}))
	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{
		UserID: "u1", PlanID: "pro", Status: domain.SubscriptionActive, TokenLimit: 500000, CurrentPeriodEnd: end,
	}))

	got, err = s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "pro", got.PlanID)
	require.Equal(t, int64(500000), got.TokenLimit)
	require.True(t, end.Equal(got.CurrentPeriodEnd))
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}
