// Package conversation owns a user's chat threads, quota counter and
// credential, and runs the send-message workflow against them.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/quota"
	"github.com/ashureev/chatdesk/internal/shared"
)

// Completer is the completion capability used by the send workflow.
type Completer interface {
	Complete(ctx context.Context, msgs []completion.Message, opts completion.Options) (completion.Result, error)
}

// Recorder persists completed exchanges.
type Recorder interface {
	Record(ctx context.Context, entry *domain.HistoryEntry) error
}

// SnapshotStore loads and saves persisted conversation state.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, userID string, snap *domain.Snapshot) error
}

// Deps are the collaborators shared by every Store.
type Deps struct {
	Gateway   Completer
	Recorder  Recorder
	Snapshots SnapshotStore
	Notifier  Notifier
	Tracker   *quota.Tracker
	Logger    *slog.Logger
}

// Config holds per-store defaults.
type Config struct {
	DefaultModel   string
	FreeTier       int64
	HistoryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-3.5-turbo"
	}
	if c.FreeTier <= 0 {
		c.FreeTier = domain.DefaultFreeTierTokens
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = 10 * time.Second
	}
	return c
}

// Store is the single mutation surface for one user's chat state.
//
// All fields below mu are guarded by it. The completion call runs with mu
// released; the per-thread busy flag keeps a second send off the same thread.
type Store struct {
	userID string
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	threads    []*domain.Thread
	activeID   int64
	credential *string
	quota      domain.QuotaState
	sub        *domain.Subscription
	busy       map[int64]bool
	lastID     int64
	version    int64

	bg sync.WaitGroup
}

// NewStore builds a store for userID, restoring from snap when non-nil.
// The active thread is not part of a snapshot, so a restored store has none.
func NewStore(userID string, deps Deps, cfg Config, snap *domain.Snapshot, sub *domain.Subscription) *Store {
	if deps.Tracker == nil {
		deps.Tracker = quota.NewTracker(nil, nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		userID: userID,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With("user_id", userID),
		sub:    sub,
		busy:   make(map[int64]bool),
	}

	if snap != nil {
		s.version = snap.Version
		s.credential = cloneString(snap.Credential)
		s.quota = domain.QuotaState{MonthlyTokens: snap.MonthlyTokens, LastReset: snap.LastReset}
		for i := range snap.Threads {
			th := snap.Threads[i].Clone()
			s.threads = append(s.threads, &th)
			s.observeID(th.ID)
			for _, t := range th.Turns {
				s.observeID(t.ID)
			}
		}
	}

	return s
}

// UserID returns the identity that owns the store.
func (s *Store) UserID() string { return s.userID }

func (s *Store) observeID(id int64) {
	if id > s.lastID {
		s.lastID = id
	}
}

// nextIDLocked returns a millisecond timestamp ID, bumped so IDs stay
// strictly increasing even when two are minted in the same millisecond.
func (s *Store) nextIDLocked(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Store) findLocked(id int64) *domain.Thread {
	for _, th := range s.threads {
		if th.ID == id {
			return th
		}
	}
	return nil
}

func (s *Store) newThreadLocked(now time.Time) *domain.Thread {
	th := &domain.Thread{
		ID:         s.nextIDLocked(now),
		Title:      domain.DefaultThreadTitle,
		Turns:      []domain.Turn{},
		Model:      s.cfg.DefaultModel,
		LastActive: now,
	}
	s.threads = append(s.threads, th)
	s.activeID = th.ID
	return th
}

func (s *Store) ceilingLocked(now time.Time) int64 {
	return s.sub.Ceiling(now, s.cfg.FreeTier)
}

func (s *Store) quotaStatusLocked(now time.Time) domain.QuotaStatus {
	ceiling := s.ceilingLocked(now)
	planID := domain.FreePlanID
	if s.sub.Active(now) {
		planID = s.sub.PlanID
	}
	return domain.QuotaStatus{
		MonthlyTokens: s.quota.MonthlyTokens,
		Ceiling:       ceiling,
		Remaining:     quota.Remaining(s.quota, ceiling),
		LastReset:     s.quota.LastReset,
		PlanID:        planID,
	}
}

// snapshotLocked bumps the version and captures the persisted shape.
func (s *Store) snapshotLocked() *domain.Snapshot {
	s.version++
	snap := &domain.Snapshot{
		Version:       s.version,
		Credential:    cloneString(s.credential),
		MonthlyTokens: s.quota.MonthlyTokens,
		LastReset:     s.quota.LastReset,
		Threads:       make([]domain.Thread, 0, len(s.threads)),
	}
	for _, th := range s.threads {
		snap.Threads = append(snap.Threads, th.Clone())
	}
	return snap
}

// persist writes snap outside the lock. Failures are logged; the in-memory
// state stays authoritative and the next mutation writes a newer snapshot.
func (s *Store) persist(ctx context.Context, snap *domain.Snapshot) {
	if s.deps.Snapshots == nil || snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, "save snapshot", func(ctx context.Context) error {
		return s.deps.Snapshots.SaveSnapshot(ctx, s.userID, snap)
	})
	if err != nil {
		s.logger.Error("Failed to persist conversation snapshot", "version", snap.Version, "error", err)
	}
}

func (s *Store) publish(events ...Event) {
	for _, ev := range events {
		s.deps.Notifier.Publish(s.userID, ev)
	}
}

// commit persists snap and then publishes events.
func (s *Store) commit(ctx context.Context, snap *domain.Snapshot, events ...Event) {
	s.persist(ctx, snap)
	s.publish(events...)
}

// NewThread creates an empty thread and makes it active.
func (s *Store) NewThread(ctx context.Context) domain.Thread {
	s.mu.Lock()
	now := s.deps.Tracker.Now()
	th := s.newThreadLocked(now)
	out := th.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap, Event{Type: EventThreadCreated, ThreadID: out.ID, Thread: &out, At: now})
	s.logger.Info("Thread created", "thread_id", out.ID)
	return out
}

// SetActive makes id the active thread. Zero clears the selection.
func (s *Store) SetActive(id int64) error {
	s.mu.Lock()
	if id != 0 && s.findLocked(id) == nil {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	s.activeID = id
	s.mu.Unlock()

	s.publish(Event{Type: EventActiveChanged, ThreadID: id, At: s.deps.Tracker.Now()})
	return nil
}

// ActiveID returns the active thread ID, or 0 when none is selected.
func (s *Store) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active thread.
func (s *Store) Active() (domain.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.findLocked(s.activeID)
	if th == nil {
		return domain.Thread{}, false
	}
	return th.Clone(), true
}

// Threads returns copies of all threads in creation order.
func (s *Store) Threads() []domain.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Thread, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, th.Clone())
	}
	return out
}

// Thread returns a copy of one thread.
func (s *Store) Thread(id int64) (domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.findLocked(id)
	if th == nil {
		return domain.Thread{}, ErrThreadNotFound
	}
	return th.Clone(), nil
}

// RenameThread sets a thread's title. A blank title restores the default.
func (s *Store) RenameThread(ctx context.Context, id int64, title string) (domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultThreadTitle
	}
	return s.updateThread(ctx, id, func(th *domain.Thread) { th.Title = title })
}

// SetThreadModel selects the model for future sends on a thread. A blank
// model restores the default.
func (s *Store) SetThreadModel(ctx context.Context, id int64, model string) (domain.Thread, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = s.cfg.DefaultModel
	}
	return s.updateThread(ctx, id, func(th *domain.Thread) { th.Model = model })
}

func (s *Store) updateThread(ctx context.Context, id int64, fn func(*domain.Thread)) (domain.Thread, error) {
	s.mu.Lock()
	th := s.findLocked(id)
	if th == nil {
		s.mu.Unlock()
		return domain.Thread{}, ErrThreadNotFound
	}
	fn(th)
	out := th.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap, Event{Type: EventThreadUpdated, ThreadID: id, Thread: &out, At: s.deps.Tracker.Now()})
	return out, nil
}

// SetCredential stores a user API key. Nil or blank clears it, falling back
// to the process default.
func (s *Store) SetCredential(ctx context.Context, key *string) {
	var cred *string
	if key != nil {
		if v := strings.TrimSpace(*key); v != "" {
			cred = &v
		}
	}

	s.mu.Lock()
	s.credential = cred
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap, Event{Type: EventSettingsChange, At: s.deps.Tracker.Now()})
	s.logger.Info("Credential updated", "has_credential", cred != nil)
}

// HasCredential reports whether a user API key is stored.
func (s *Store) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != nil
}

// SetSubscription replaces the subscription used to derive the ceiling.
func (s *Store) SetSubscription(sub *domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = sub
}

// Subscription returns the subscription in effect, which may be nil.
func (s *Store) Subscription() *domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	sub := *s.sub
	return &sub
}

// Quota applies any due monthly reset and reports the counter.
func (s *Store) Quota(ctx context.Context) domain.QuotaStatus {
	s.mu.Lock()
	now := s.deps.Tracker.Now()
	var snap *domain.Snapshot
	if s.deps.Tracker.NeedsReset(s.quota, now) {
		_, next, _ := s.deps.Tracker.CheckAndMaybeReset(s.quota, s.ceilingLocked(now))
		s.quota = next
		snap = s.snapshotLocked()
	}
	status := s.quotaStatusLocked(now)
	s.mu.Unlock()

	if snap != nil {
		s.commit(ctx, snap, Event{Type: EventQuotaUpdated, Quota: &status, At: now})
	}
	return status
}

// ResetTokenCount zeroes the monthly counter.
func (s *Store) ResetTokenCount(ctx context.Context) domain.QuotaStatus {
	s.mu.Lock()
	now := s.deps.Tracker.Now()
	s.quota = s.deps.Tracker.Reset()
	status := s.quotaStatusLocked(now)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap, Event{Type: EventQuotaUpdated, Quota: &status, At: now})
	s.logger.Info("Token count reset")
	return status
}

// Busy reports whether a send on the thread is awaiting completion.
func (s *Store) Busy(threadID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[threadID]
}

// Snapshot returns the current persisted shape without bumping the version.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := domain.Snapshot{
		Version:       s.version,
		Credential:    cloneString(s.credential),
		MonthlyTokens: s.quota.MonthlyTokens,
		LastReset:     s.quota.LastReset,
	}
	for _, th := range s.threads {
		snap.Threads = append(snap.Threads, th.Clone())
	}
	return snap
}

// Wait blocks until background history writes have finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
