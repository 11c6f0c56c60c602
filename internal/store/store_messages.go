package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// StoreMessagesBatch upserts msgs into the messages table. An upsert of an
// already-vectorized message preserves vectorized=1 (the insert's default
// of 0 never overwrites a prior vectorization).
func (s *Store) StoreMessagesBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: store messages batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, channel_id, guild_id, user_id, content, timestamp_seconds, reactions_json, vectorized)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(message_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			guild_id = excluded.guild_id,
			user_id = excluded.user_id,
			content = excluded.content,
			timestamp_seconds = excluded.timestamp_seconds,
			reactions_json = excluded.reactions_json
	`)
	if err != nil {
		return fmt.Errorf("store: store messages batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		reactions := m.ReactionsJSON
		if reactions == "" {
			reactions = "[]"
		}
		if _, err := stmt.ExecContext(ctx, m.MessageID, m.ChannelID, m.GuildID, m.UserID, m.Content, m.TimestampSec, reactions); err != nil {
			s.reportTxFailure(ctx, "store_messages_batch", err)
			return fmt.Errorf("store: store messages batch: exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.reportTxFailure(ctx, "store_messages_batch", err)
		return fmt.Errorf("store: store messages batch: commit: %w", err)
	}
	return nil
}

// GetUnvectorized returns up to limit messages with vectorized=0, for the
// Vectorization Service to pick up. Concurrent with an in-flight
// ArchiveMessages call, each returned message_id either fully reflects the
// pre-archival state or is absent, never a partial row.
func (s *Store) GetUnvectorized(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, channel_id, guild_id, user_id, content, timestamp_seconds, reactions_json, vectorized
		FROM messages WHERE vectorized = 0 ORDER BY timestamp_seconds ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get unvectorized: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return msgs, rows.Err()
}

// MarkVectorized flips vectorized to 1 for the given message ids.
func (s *Store) MarkVectorized(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: mark vectorized: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE messages SET vectorized = 1 WHERE message_id = ?`)
	if err != nil {
		return fmt.Errorf("store: mark vectorized: prepare: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			s.reportTxFailure(ctx, "mark_vectorized", err)
			return fmt.Errorf("store: mark vectorized: exec: %w", err)
		}
	}
	return tx.Commit()
}

// GetMessagesByIDs returns the stored messages matching ids, in no
// particular order. Missing ids are silently omitted.
func (s *Store) GetMessagesByIDs(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT message_id, channel_id, guild_id, user_id, content, timestamp_seconds, reactions_json, vectorized
		FROM messages WHERE message_id IN (%s)
	`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get messages by ids: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return msgs, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var vec int
		if err := rows.Scan(&m.MessageID, &m.ChannelID, &m.GuildID, &m.UserID, &m.Content, &m.TimestampSec, &m.ReactionsJSON, &vec); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Vectorized = vec != 0
		out = append(out, m)
	}
	return out, nil
}
