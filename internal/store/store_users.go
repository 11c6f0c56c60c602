package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetUser returns the user with id, or nil if none exists. Cache-then-query:
// a hit on the LRU user cache never touches the database.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	if u, ok := s.userCache.Get(id); ok {
		cp := *u
		return &cp, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, display_names_json, procedural_memory, background, created_at
		 FROM users WHERE id = ?`, id)

	var u User
	var namesJSON string
	if err := row.Scan(&u.ID, &u.DisplayName, &namesJSON, &u.ProceduralMemory, &u.Background, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(namesJSON), &u.DisplayNames); err != nil {
		u.DisplayNames = []string{u.DisplayName}
	}

	s.userCache.Add(id, &u)
	cp := u
	return &cp, nil
}

// UpsertUser creates or updates the user with id: name is union-merged into
// the historical display-name set (never duplicated), and proceduralMemory /
// background, when non-empty, overwrite the stored values. Calling this
// twice in sequence with the same name leaves DisplayNames containing name
// exactly once.
func (s *Store) UpsertUser(ctx context.Context, id, name, proceduralMemory, background string) (*User, error) {
	existing, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	u := User{ID: id, DisplayName: name, CreatedAt: now}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
		u.DisplayNames = mergeUnique(existing.DisplayNames, name)
		u.ProceduralMemory = existing.ProceduralMemory
		u.Background = existing.Background
	} else {
		u.DisplayNames = []string{name}
	}
	if proceduralMemory != "" {
		u.ProceduralMemory = proceduralMemory
	}
	if background != "" {
		u.Background = background
	}

	namesJSON, err := json.Marshal(u.DisplayNames)
	if err != nil {
		return nil, fmt.Errorf("store: marshal display names: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, display_names_json, procedural_memory, background, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			display_names_json = excluded.display_names_json,
			procedural_memory = excluded.procedural_memory,
			background = excluded.background
	`, u.ID, u.DisplayName, string(namesJSON), u.ProceduralMemory, u.Background, u.CreatedAt)
	if err != nil {
		s.reportTxFailure(ctx, "upsert_user", err)
		return nil, fmt.Errorf("store: upsert user %s: %w", id, err)
	}

	s.userCache.Add(id, &u)
	cp := u
	return &cp, nil
}

func mergeUnique(existing []string, name string) []string {
	for _, n := range existing {
		if n == name {
			return existing
		}
	}
	return append(existing, name)
}
