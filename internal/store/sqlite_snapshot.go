package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// GetSnapshot returns the stored snapshot for a user.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error) {
	var version int64
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload_json FROM snapshots WHERE user_id = ?`, userID,
	).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", userID, err)
	}
	snap.Version = version
	return &snap, nil
}

// SaveSnapshot upserts the snapshot. Older versions never overwrite newer ones.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, userID string, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (user_id, version, payload_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			version = excluded.version,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at
		WHERE excluded.version >= snapshots.version`

	if _, err := s.db.ExecContext(ctx, query, userID, snap.Version, string(payload), time.Now().Unix()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
