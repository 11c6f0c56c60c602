package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetChannelState returns the tracked window state for channelID, or nil if
// the channel has no state yet.
func (s *Store) GetChannelState(ctx context.Context, channelID string) (*ChannelState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel_id, message_count, start_message_id FROM channel_memory_state WHERE channel_id = ?
	`, channelID)
	var cs ChannelState
	if err := row.Scan(&cs.ChannelID, &cs.MessageCount, &cs.StartMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get channel state %s: %w", channelID, err)
	}
	return &cs, nil
}

// UpsertChannelState sets the channel's tracked count and start message id.
func (s *Store) UpsertChannelState(ctx context.Context, channelID string, count int, startMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_memory_state (channel_id, message_count, start_message_id)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			message_count = excluded.message_count,
			start_message_id = excluded.start_message_id
	`, channelID, count, startMessageID)
	if err != nil {
		s.reportTxFailure(ctx, "upsert_channel_state", err)
		return fmt.Errorf("store: upsert channel state %s: %w", channelID, err)
	}
	return nil
}

// ResetChannelState zeroes a channel's tracked message count after a
// processing cycle completes, keeping its start_message_id unchanged as an
// observability marker of the last window boundary.
func (s *Store) ResetChannelState(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE channel_memory_state SET message_count = 0 WHERE channel_id = ?`, channelID)
	if err != nil {
		s.reportTxFailure(ctx, "reset_channel_state", err)
		return fmt.Errorf("store: reset channel state %s: %w", channelID, err)
	}
	return nil
}

// GetConfig returns a stored config value by key, or "" with ok=false.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM config_kv WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get config %s: %w", key, err)
	}
	return v, true, nil
}

// SetConfig upserts a config key/value pair.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		s.reportTxFailure(ctx, "set_config", err)
		return fmt.Errorf("store: set config %s: %w", key, err)
	}
	return nil
}
