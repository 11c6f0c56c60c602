package vectorstore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/starpig1129/pigpig-core/internal/config"
)

// EmbeddingFactory builds an EmbeddingProvider from the memory/vector-store
// configuration. Registered factories are looked up by string key so the
// concrete vendor package never needs compile-time wiring beyond init().
type EmbeddingFactory func(cfg config.VectorStoreConfig) (EmbeddingProvider, error)

// EmbeddingRegistry maps a provider key ("base", "openai", "google",
// "huggingface", "ollama") to its factory, mirroring the
// register_embedding_provider decorator pattern of the original.
type EmbeddingRegistry struct {
	factories map[string]EmbeddingFactory
}

// NewEmbeddingRegistry builds a registry pre-populated with every built-in
// provider.
func NewEmbeddingRegistry() *EmbeddingRegistry {
	r := &EmbeddingRegistry{factories: make(map[string]EmbeddingFactory)}
	r.Register("base", newBaseProvider)
	r.Register("openai", newOpenAIProvider)
	r.Register("google", newGoogleProvider)
	r.Register("huggingface", newHuggingFaceProvider)
	r.Register("ollama", newOllamaProvider)
	return r
}

// Register adds or replaces the factory for key.
func (r *EmbeddingRegistry) Register(key string, f EmbeddingFactory) {
	r.factories[key] = f
}

// Build constructs the EmbeddingProvider named by cfg.EmbeddingProvider.
func (r *EmbeddingRegistry) Build(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	key := cfg.EmbeddingProvider
	if key == "" {
		key = "base"
	}
	f, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("vectorstore: unknown embedding provider %q", key)
	}
	return f(cfg)
}

// baseProvider is the dummy embedding provider used in tests and local
// development: every vector is all-zero, in the configured dimension.
type baseProvider struct{ dim int }

func newBaseProvider(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 8
	}
	return &baseProvider{dim: dim}, nil
}

func (b *baseProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, b.dim)
	}
	return out, nil
}

func (b *baseProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, b.dim), nil
}

// httpEmbeddingProvider is the shared shape for the OpenAI/Google/
// HuggingFace/Ollama REST-backed providers: one endpoint, one API key
// header, and a model name. Vendor differences live only
// in request/response shaping, which each constructor's closure handles.
type httpEmbeddingProvider struct {
	client *http.Client
	embed  func(ctx context.Context, texts []string) ([][]float32, error)
}

func (p *httpEmbeddingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts)
}

func (p *httpEmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("vectorstore: embedding provider returned no vectors")
	}
	return vecs[0], nil
}
