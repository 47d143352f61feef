package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/chatdesk/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SubscriptionSource resolves a user's subscription. It never fails; an
// unavailable source yields the free plan.
type SubscriptionSource interface {
	Get(ctx context.Context, userID string) *domain.Subscription
}

// Manager hands out one Store per user identity.
type Manager struct {
	deps Deps
	cfg  Config
	subs SubscriptionSource

	mu     sync.RWMutex
	stores map[string]*Store
	loads  singleflight.Group
}

// NewManager creates a manager. Stores are restored lazily on first use.
func NewManager(deps Deps, cfg Config, subs SubscriptionSource) *Manager {
	return &Manager{
		deps:   deps,
		cfg:    cfg,
		subs:   subs,
		stores: make(map[string]*Store),
	}
}

// Get returns the user's store, restoring it from its snapshot if needed.
// The subscription is re-read on every call so plan changes apply to the
// next send.
func (m *Manager) Get(ctx context.Context, userID string) (*Store, error) {
	m.mu.RLock()
	st, ok := m.stores[userID]
	m.mu.RUnlock()
	if ok {
		if m.subs != nil {
			st.SetSubscription(m.subs.Get(ctx, userID))
		}
		return st, nil
	}

	// Concurrent callers share one load, so it must not fail because the
	// first caller went away.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := m.loads.Do(userID, func() (interface{}, error) {
		m.mu.RLock()
		existing, ok := m.stores[userID]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		var snap *domain.Snapshot
		if m.deps.Snapshots != nil {
			var err error
			snap, err = m.deps.Snapshots.GetSnapshot(loadCtx, userID)
			if err != nil {
				return nil, fmt.Errorf("load conversation snapshot for %s: %w", userID, err)
			}
		}

		var sub *domain.Subscription
		if m.subs != nil {
			sub = m.subs.Get(loadCtx, userID)
		}

		st := NewStore(userID, m.deps, m.cfg, snap, sub)
		m.mu.Lock()
		m.stores[userID] = st
		m.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Wait blocks until every store's background history writes have finished.
func (m *Manager) Wait() {
	m.mu.RLock()
	stores := make([]*Store, 0, len(m.stores))
	for _, st := range m.stores {
		stores = append(stores, st)
	}
	m.mu.RUnlock()

	for _, st := range stores {
		st.Wait()
	}
}

// Len returns the number of loaded stores.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stores)
}
