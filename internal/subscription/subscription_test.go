package subscription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeSubs struct {
	sub    *domain.Subscription
	getErr error
	saved  []*domain.Subscription
}

func (f *fakeSubs) GetSubscription(context.Context, string) (*domain.Subscription, error) {
	return f.sub, f.getErr
}

func (f *fakeSubs) UpsertSubscription(_ context.Context, sub *domain.Subscription) error {
	f.saved = append(f.saved, sub)
	f.sub = sub
	return nil
}

var _ store.SubscriptionStore = (*fakeSubs)(nil)

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("")
	require.NoError(t, err)
	return c
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)

	plans := c.Plans()
	require.Len(t, plans, 3)
	require.Equal(t, []string{"free", "basic", "pro"}, []string{plans[0].ID, plans[1].ID, plans[2].ID})
	require.Equal(t, int64(10000), c.FreeTokens())

	pro, ok := c.Plan("pro")
	require.True(t, ok)
	require.Equal(t, int64(500000), pro.TokenLimit)
}

func TestLoadCatalogFromYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: free
    name: Free
    token_limit: 2000
  - id: team
    name: Team
    price: 99
    interval: monthly
    token_limit: 2000000
    features: ["Shared workspace"]
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, int64(2000), c.FreeTokens())
	team, ok := c.Plan("team")
	require.True(t, ok)
	require.Equal(t, []string{"Shared workspace"}, team.Features)
}

func TestCatalogRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewCatalog(nil)
	require.Error(t, err)

	_, err = NewCatalog([]domain.Plan{{ID: "basic", TokenLimit: 10}})
	require.Error(t, err, "free plan is required")

	_, err = NewCatalog([]domain.Plan{{ID: "free", TokenLimit: 10}, {ID: "free", TokenLimit: 20}})
	require.Error(t, err)

	_, err = NewCatalog([]domain.Plan{{ID: "free"}})
	require.Error(t, err)
}

func TestGetDefaultsToFreeTier(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for name, repo := range map[string]*fakeSubs{
		"missing":    {},
		"read error": {getErr: errors.New("boom")},
	} {
		src := NewSource(repo, mustCatalog(t), 0)
		src.now = func() time.Time { return now }

		sub := src.Get(context.Background(), "u1")
		require.Equal(t, domain.FreePlanID, sub.PlanID, name)
		require.Equal(t, domain.SubscriptionActive, sub.Status, name)
		require.Equal(t, int64(10000), sub.TokenLimit, name)
		require.Equal(t, now.Add(DefaultPeriod), sub.CurrentPeriodEnd, name)
	}
}

func TestFreeTierOverride(t *testing.T) {
	t.Parallel()
	src := NewSource(&fakeSubs{}, mustCatalog(t), 750)
	require.Equal(t, int64(750), src.FreeTier())
	require.Equal(t, int64(750), src.Get(context.Background(), "u1").TokenLimit)
}

func TestSetUsesPlanLimit(t *testing.T) {
	t.Parallel()
	repo := &fakeSubs{}
	src := NewSource(repo, mustCatalog(t), 0)

	sub, err := src.Set(context.Background(), "u1", "basic", "")
	require.NoError(t, err)
	require.Equal(t, int64(100000), sub.TokenLimit)
	require.Equal(t, domain.SubscriptionActive, sub.Status)
	require.Len(t, repo.saved, 1)

	got := src.Get(context.Background(), "u1")
	require.Equal(t, "basic", got.PlanID)

	_, err = src.Set(context.Background(), "u1", "enterprise", "")
	require.Error(t, err)
	_, err = src.Set(context.Background(), "u1", "pro", "paused")
	require.Error(t, err)
}
