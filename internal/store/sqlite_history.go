package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// InsertHistory appends one entry.
func (s *SQLiteStore) InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	var messagesJSON interface{}
	if len(entry.Turns) > 0 {
		b, err := json.Marshal(entry.Turns)
		if err != nil {
			return fmt.Errorf("encode history messages: %w", err)
		}
		messagesJSON = string(b)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO history (
			id, user_id, kind, model, title, tokens_used, response_time,
			status, messages_json, prompt, completion, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, string(entry.Kind), entry.Model, entry.Title,
		entry.TokensUsed, entry.ResponseTime, string(entry.Status),
		messagesJSON, entry.Prompt, entry.Completion, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListHistory returns a user's entries, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	query := `
		SELECT id, user_id, kind, model, title, tokens_used, response_time,
		       status, messages_json, prompt, completion, created_at
		FROM history WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close history rows", "error", closeErr)
		}
	}()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var kind, status string
		var messagesJSON, prompt, completion sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&e.ID, &e.UserID, &kind, &e.Model, &e.Title, &e.TokensUsed, &e.ResponseTime,
			&status, &messagesJSON, &prompt, &completion, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}

		e.Kind = domain.HistoryKind(kind)
		e.Status = domain.ExchangeStatus(status)
		e.Prompt = prompt.String
		e.Completion = completion.String
		e.CreatedAt = time.UnixMilli(createdAt)
		if messagesJSON.Valid && messagesJSON.String != "" {
			if err := json.Unmarshal([]byte(messagesJSON.String), &e.Turns); err != nil {
				slog.Warn("Skipping undecodable history messages", "id", e.ID, "error", err)
			}
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return entries, nil
}

// DeleteHistory removes a single entry owned by userID.
func (s *SQLiteStore) DeleteHistory(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearHistory removes every entry owned by userID.
func (s *SQLiteStore) ClearHistory(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return result.RowsAffected()
}

// HistoryStats aggregates a user's entries.
func (s *SQLiteStore) HistoryStats(ctx context.Context, userID string) (*domain.HistoryStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(response_time), 0)
		FROM history WHERE user_id = ?`

	var st domain.HistoryStats
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&st.TotalEntries, &st.TotalTokens, &st.SuccessCount, &st.ErrorCount, &st.AvgResponseTime,
	)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	return &st, nil
}
