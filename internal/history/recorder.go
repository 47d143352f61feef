// Package history records completed exchanges to durable storage.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/shared"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/google/uuid"
)

// PersistenceError reports that an entry could not be stored. Callers treat
// it as best-effort: the exchange itself already happened.
type PersistenceError struct {
	EntryID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist history entry %s: %v", e.EntryID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Title formats the label stored with each completion entry.
func Title(tokens int64) string {
	return fmt.Sprintf("Chat Completion - %d tokens", tokens)
}

// Recorder writes and reads history entries for users.
type Recorder struct {
	repo      store.HistoryStore
	now       func() time.Time
	attempts  int
	baseDelay time.Duration
}

// NewRecorder creates a recorder backed by repo.
func NewRecorder(repo store.HistoryStore) *Recorder {
	return &Recorder{
		repo:      repo,
		now:       time.Now,
		attempts:  3,
		baseDelay: 50 * time.Millisecond,
	}
}

// Record stores entry, assigning an ID and timestamp when missing. Storage
// failures are returned as *PersistenceError.
func (r *Recorder) Record(ctx context.Context, entry *domain.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if entry.Kind == "" {
		entry.Kind = domain.HistoryKindChat
	}
	if entry.Title == "" {
		entry.Title = Title(entry.TokensUsed)
	}

	err := shared.RetryOnConflict(ctx, r.attempts, r.baseDelay, "insert history", func(ctx context.Context) error {
		return r.repo.InsertHistory(ctx, entry)
	})
	if err != nil {
		slog.Warn("Failed to record history", "user_id", entry.UserID, "entry_id", entry.ID, "error", err)
		return &PersistenceError{EntryID: entry.ID, Err: err}
	}

	slog.Debug("History recorded", "user_id", entry.UserID, "entry_id", entry.ID, "status", entry.Status)
	return nil
}

// List returns up to limit entries for a user, newest first.
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	entries, err := r.repo.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if entries == nil {
		entries = []*domain.HistoryEntry{}
	}
	return entries, nil
}

// Delete removes one entry. Returns store.ErrNotFound if it does not exist.
func (r *Recorder) Delete(ctx context.Context, userID, id string) error {
	return r.repo.DeleteHistory(ctx, userID, id)
}

// Clear removes every entry for a user and returns how many were removed.
func (r *Recorder) Clear(ctx context.Context, userID string) (int64, error) {
	n, err := r.repo.ClearHistory(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return n, nil
}

// Stats aggregates a user's history.
func (r *Recorder) Stats(ctx context.Context, userID string) (*domain.HistoryStats, error) {
	st, err := r.repo.HistoryStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	if st.TotalEntries > 0 {
		st.SuccessRate = float64(st.SuccessCount) / float64(st.TotalEntries) * 100
	}
	return st, nil
}
