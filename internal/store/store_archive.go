package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ArchiveMessages moves the given message ids from messages to
// message_archive in a single transaction: select, insert with
// archived_at=now(), then delete from the primary table. A message_id
// resides in exactly one of the two tables after this returns, and
// at-most-once archival is enforced by the transaction: a message already
// archived (absent from messages) is silently skipped.
func (s *Store) ArchiveMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: archive messages: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, id := range ids {
		if err := archiveOne(ctx, tx, id, now); err != nil {
			s.reportTxFailure(ctx, "archive_messages", err)
			return fmt.Errorf("store: archive message %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.reportTxFailure(ctx, "archive_messages", err)
		return fmt.Errorf("store: archive messages: commit: %w", err)
	}
	return nil
}

func archiveOne(ctx context.Context, tx *sql.Tx, messageID string, archivedAt int64) error {
	row := tx.QueryRowContext(ctx, `
		SELECT message_id, channel_id, guild_id, user_id, content, timestamp_seconds, reactions_json, vectorized
		FROM messages WHERE message_id = ?
	`, messageID)

	var m Message
	var vec int
	if err := row.Scan(&m.MessageID, &m.ChannelID, &m.GuildID, &m.UserID, &m.Content, &m.TimestampSec, &m.ReactionsJSON, &vec); err != nil {
		if err == sql.ErrNoRows {
			return nil // already archived or never existed; at-most-once is satisfied either way
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_archive (message_id, channel_id, guild_id, user_id, content, timestamp_seconds, reactions_json, vectorized, archived_at_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, m.MessageID, m.ChannelID, m.GuildID, m.UserID, m.Content, m.TimestampSec, m.ReactionsJSON, vec, archivedAt); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?`, messageID)
	return err
}

// DeleteMessages hard-deletes the given message ids from the primary table,
// for the opt-in delete retention policy.
func (s *Store) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete messages: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM messages WHERE message_id = ?`)
	if err != nil {
		return fmt.Errorf("store: delete messages: prepare: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			s.reportTxFailure(ctx, "delete_messages", err)
			return fmt.Errorf("store: delete message %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.reportTxFailure(ctx, "delete_messages", err)
		return err
	}
	return nil
}
