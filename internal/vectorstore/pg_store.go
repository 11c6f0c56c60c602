package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

// PGStore is a pgvector-backed Store: one table holding fragment content,
// metadata, and an embedding column, with a cosine-distance nearest
// neighbor query (no vector index is created) for vector search and a
// LIKE-based fallback for keyword
// search, deduplicated by fragment_id in Go after both queries return.
type PGStore struct {
	db    *sql.DB
	embed EmbeddingProvider
}

// OpenPGStore connects to dsn (a postgres:// URL) via the pgx stdlib
// driver and ensures the fragments table and its vector column exist.
func OpenPGStore(ctx context.Context, dsn string, dim int, embed EmbeddingProvider) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open postgres: %w", err)
	}
	s := &PGStore{db: db, embed: embed}
	if err := s.migrate(ctx, dim); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_fragments (
			fragment_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			query_key TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			guild_id TEXT NOT NULL DEFAULT '',
			author_ids_json TEXT NOT NULL DEFAULT '[]',
			source_message_ids_json TEXT NOT NULL DEFAULT '[]',
			jump_url TEXT NOT NULL DEFAULT '',
			start_ts BIGINT NOT NULL DEFAULT 0,
			end_ts BIGINT NOT NULL DEFAULT 0,
			reactions_json TEXT NOT NULL DEFAULT '[]',
			event_type TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, dim),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vectorstore: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() error { return s.db.Close() }

// AddMemories embeds and upserts each fragment, keyed by fragment_id.
func (s *PGStore) AddMemories(ctx context.Context, fragments []MemoryFragment) error {
	if len(fragments) == 0 {
		return nil
	}
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	vecs, err := s.embed.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("vectorstore: embed documents: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: add memories: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_fragments
			(fragment_id, content, query_key, channel_id, guild_id, author_ids_json,
			 source_message_ids_json, jump_url, start_ts, end_ts, reactions_json, event_type, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (fragment_id) DO UPDATE SET
			content = excluded.content,
			query_key = excluded.query_key,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: add memories: prepare: %w", err)
	}
	defer stmt.Close()

	for i, f := range fragments {
		authorIDs, _ := json.Marshal(f.Metadata.AuthorIDs)
		sourceIDs, _ := json.Marshal(f.Metadata.SourceMessageIDs)
		key := f.Metadata.FragmentID
		if key == "" {
			key = f.ID
		}
		_, err := stmt.ExecContext(ctx, key, f.Content, f.QueryKey, f.Metadata.ChannelID, f.Metadata.GuildID,
			string(authorIDs), string(sourceIDs), f.Metadata.JumpURL, f.Metadata.StartTS, f.Metadata.EndTS,
			f.Metadata.ReactionsJSON, f.Metadata.EventType, pgvector.NewVector(vecs[i]))
		if err != nil {
			return fmt.Errorf("vectorstore: add memory %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Search combines a nearest-neighbor vector query and a keyword LIKE query,
// deduplicating the union by fragment_id.
func (s *PGStore) Search(ctx context.Context, q SearchQuery) ([]MemoryFragment, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 6
	}

	seen := make(map[string]bool)
	var out []MemoryFragment

	if q.VectorQuery != "" {
		qv, err := s.embed.EmbedQuery(ctx, q.VectorQuery)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: embed query: %w", err)
		}
		rows, err := s.searchRows(ctx, `
			SELECT fragment_id, content, query_key, channel_id, guild_id, author_ids_json,
			       source_message_ids_json, jump_url, start_ts, end_ts, reactions_json, event_type,
			       1 - (embedding <=> $1) AS score
			FROM memory_fragments
			WHERE ($2 = '' OR channel_id = $2) AND ($3 = '' OR author_ids_json LIKE '%' || $3 || '%')
			ORDER BY embedding <=> $1 ASC LIMIT $4
		`, pgvector.NewVector(qv), q.ChannelID, q.UserID, limit)
		if err != nil {
			return nil, err
		}
		for _, f := range rows {
			if !seen[fragmentKey(f)] {
				seen[fragmentKey(f)] = true
				out = append(out, f)
			}
		}
	}

	if q.KeywordQuery != "" && len(out) < limit {
		like := "%" + strings.ReplaceAll(q.KeywordQuery, "%", "") + "%"
		rows, err := s.searchRows(ctx, `
			SELECT fragment_id, content, query_key, channel_id, guild_id, author_ids_json,
			       source_message_ids_json, jump_url, start_ts, end_ts, reactions_json, event_type, 0
			FROM memory_fragments
			WHERE (content ILIKE $1 OR query_key ILIKE $1)
			  AND ($2 = '' OR channel_id = $2) AND ($3 = '' OR author_ids_json LIKE '%' || $3 || '%')
			LIMIT $4
		`, like, q.ChannelID, q.UserID, limit-len(out))
		if err != nil {
			return nil, err
		}
		for _, f := range rows {
			if !seen[fragmentKey(f)] {
				seen[fragmentKey(f)] = true
				out = append(out, f)
			}
		}
	}

	return out, nil
}

func (s *PGStore) searchRows(ctx context.Context, query string, args ...any) ([]MemoryFragment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []MemoryFragment
	for rows.Next() {
		var f MemoryFragment
		var authorIDs, sourceIDs string
		if err := rows.Scan(&f.ID, &f.Content, &f.QueryKey, &f.Metadata.ChannelID, &f.Metadata.GuildID,
			&authorIDs, &sourceIDs, &f.Metadata.JumpURL, &f.Metadata.StartTS, &f.Metadata.EndTS,
			&f.Metadata.ReactionsJSON, &f.Metadata.EventType, &f.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan fragment: %w", err)
		}
		_ = json.Unmarshal([]byte(authorIDs), &f.Metadata.AuthorIDs)
		_ = json.Unmarshal([]byte(sourceIDs), &f.Metadata.SourceMessageIDs)
		f.Metadata.FragmentID = f.ID
		out = append(out, f)
	}
	return out, rows.Err()
}
