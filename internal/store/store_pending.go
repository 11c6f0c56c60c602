package store

import (
	"context"
	"fmt"
	"strings"
)

// AddPending appends a new pending message reference and returns its
// assigned (dense, monotonically increasing) id.
func (s *Store) AddPending(ctx context.Context, ref PendingMessageRef) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_messages (message_id, channel_id, guild_id, user_id, timestamp_seconds, processed_flag)
		VALUES (?, ?, ?, ?, ?, 0)
	`, ref.MessageID, ref.ChannelID, ref.GuildID, ref.UserID, ref.TimestampSec)
	if err != nil {
		s.reportTxFailure(ctx, "add_pending", err)
		return 0, fmt.Errorf("store: add pending: %w", err)
	}
	return res.LastInsertId()
}

// GetPending returns up to limit unprocessed references, oldest first
// (FIFO by id), for the Episodic ETL Service to drain.
func (s *Store) GetPending(ctx context.Context, limit int) ([]PendingMessageRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, guild_id, user_id, timestamp_seconds, processed_flag
		FROM pending_messages WHERE processed_flag = 0 ORDER BY id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get pending: %w", err)
	}
	defer rows.Close()

	var out []PendingMessageRef
	for rows.Next() {
		var r PendingMessageRef
		var processed int
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ChannelID, &r.GuildID, &r.UserID, &r.TimestampSec, &processed); err != nil {
			return nil, fmt.Errorf("store: scan pending: %w", err)
		}
		r.ProcessedFlag = processed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPendingProcessed flips processed_flag to 1 for every given id in a
// single statement. The flag is monotonic: it is never reset to 0.
func (s *Store) MarkPendingProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE pending_messages SET processed_flag = 1 WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.reportTxFailure(ctx, "mark_pending_processed", err)
		return fmt.Errorf("store: mark pending processed: %w", err)
	}
	return nil
}
