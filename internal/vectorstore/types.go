// Package vectorstore implements the Vector Store Adapter: an embedding
// provider registry and a memory fragment index supporting combined
// vector/keyword search, deduplicated by fragment id.
package vectorstore

import "context"

// FragmentMetadata carries everything Vectorization stamps onto a fragment
// besides its searchable content.
type FragmentMetadata struct {
	FragmentID      string   `json:"fragment_id"`
	SourceMessageIDs []string `json:"source_message_ids"`
	JumpURL         string   `json:"jump_url"`
	AuthorIDs       []string `json:"author_ids"`
	ChannelID       string   `json:"channel_id"`
	GuildID         string   `json:"guild_id"`
	StartTS         int64    `json:"start_ts"`
	EndTS           int64    `json:"end_ts"`
	ReactionsJSON   string   `json:"reactions_json"`
	EventType       string   `json:"event_type"`
}

// MemoryFragment is a durable memory unit derived from an event summary,
// embedded over Content and indexed for later retrieval.
type MemoryFragment struct {
	ID       string
	Content  string
	QueryKey string
	Metadata FragmentMetadata
	Score    float64 // set on search results only
}

// EmbeddingProvider embeds text for storage (EmbedDocuments) and for query
// time (EmbedQuery); both return vectors in the same space.
type EmbeddingProvider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchQuery selects the fragments Search should return. VectorQuery and
// KeywordQuery may both be set; results from each are deduplicated by
// fragment id before returning.
type SearchQuery struct {
	VectorQuery string
	KeywordQuery string
	UserID      string
	ChannelID   string
	Limit       int
}

// Store is the fragment index the Vectorization Service writes to; Search
// reads fragments back.
type Store interface {
	AddMemories(ctx context.Context, fragments []MemoryFragment) error
	Search(ctx context.Context, q SearchQuery) ([]MemoryFragment, error)
}
