package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store: every fragment and its embedding live
// in a guarded map. Used for tests and for the "base" embedding provider's
// zero-vector development mode.
type MemoryStore struct {
	embed EmbeddingProvider

	mu        sync.RWMutex
	fragments map[string]storedFragment
}

type storedFragment struct {
	fragment MemoryFragment
	vector   []float32
}

// NewMemoryStore builds a MemoryStore that embeds content via embed.
func NewMemoryStore(embed EmbeddingProvider) *MemoryStore {
	return &MemoryStore{embed: embed, fragments: make(map[string]storedFragment)}
}

// AddMemories embeds and stores each fragment, keyed by FragmentID.
func (m *MemoryStore) AddMemories(ctx context.Context, fragments []MemoryFragment) error {
	if len(fragments) == 0 {
		return nil
	}
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	vecs, err := m.embed.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range fragments {
		key := f.Metadata.FragmentID
		if key == "" {
			key = f.ID
		}
		m.fragments[key] = storedFragment{fragment: f, vector: vecs[i]}
	}
	return nil
}

// Search runs a vector query (cosine similarity over the embedded content)
// and/or a keyword substring match, deduplicating results by fragment id.
func (m *MemoryStore) Search(ctx context.Context, q SearchQuery) ([]MemoryFragment, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 6
	}

	m.mu.RLock()
	candidates := make([]storedFragment, 0, len(m.fragments))
	for _, sf := range m.fragments {
		if q.UserID != "" && !containsAuthor(sf.fragment.Metadata.AuthorIDs, q.UserID) {
			continue
		}
		if q.ChannelID != "" && sf.fragment.Metadata.ChannelID != q.ChannelID {
			continue
		}
		candidates = append(candidates, sf)
	}
	m.mu.RUnlock()

	seen := make(map[string]bool, len(candidates))
	var out []MemoryFragment

	if q.VectorQuery != "" {
		qv, err := m.embed.EmbedQuery(ctx, q.VectorQuery)
		if err != nil {
			return nil, err
		}
		scored := make([]MemoryFragment, 0, len(candidates))
		for _, sf := range candidates {
			frag := sf.fragment
			frag.Score = cosineSimilarity(qv, sf.vector)
			scored = append(scored, frag)
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
		for _, f := range scored {
			key := fragmentKey(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
			if len(out) >= limit {
				break
			}
		}
	}

	if q.KeywordQuery != "" {
		needle := strings.ToLower(q.KeywordQuery)
		for _, sf := range candidates {
			if len(out) >= limit {
				break
			}
			key := fragmentKey(sf.fragment)
			if seen[key] {
				continue
			}
			if strings.Contains(strings.ToLower(sf.fragment.Content), needle) ||
				strings.Contains(strings.ToLower(sf.fragment.QueryKey), needle) {
				seen[key] = true
				out = append(out, sf.fragment)
			}
		}
	}

	if q.VectorQuery == "" && q.KeywordQuery == "" {
		for _, sf := range candidates {
			if len(out) >= limit {
				break
			}
			key := fragmentKey(sf.fragment)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, sf.fragment)
		}
	}

	return out, nil
}

func fragmentKey(f MemoryFragment) string {
	if f.Metadata.FragmentID != "" {
		return f.Metadata.FragmentID
	}
	return f.ID
}

func containsAuthor(ids []string, id string) bool {
	for _, a := range ids {
		if a == id {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
