package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/starpig1129/pigpig-core/internal/config"
)

const httpEmbedTimeout = 30 * time.Second

// newOpenAIProvider builds an embedding provider over the OpenAI
// embeddings REST endpoint. Grounded on the original's openai_provider
// factory: requires an API key (env CORE_OPENAI_API_KEY) and a model name.
func newOpenAIProvider(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	apiKey := os.Getenv("CORE_OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("vectorstore: openai provider requires CORE_OPENAI_API_KEY")
	}
	model := cfg.EmbeddingModel
	if model == "" {
		return nil, fmt.Errorf("vectorstore: openai provider requires embedding_model")
	}
	return &httpEmbeddingProvider{
		client: &http.Client{Timeout: httpEmbedTimeout},
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			return openAICompatibleEmbed(ctx, "https://api.openai.com/v1/embeddings", apiKey, model, texts)
		},
	}, nil
}

// newGoogleProvider builds an embedding provider over the Gemini
// embedContent REST endpoint. Grounded on the original's
// google_genai_provider factory.
func newGoogleProvider(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	apiKey := os.Getenv("CORE_GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("vectorstore: google provider requires CORE_GEMINI_API_KEY")
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-004"
	}
	client := &http.Client{Timeout: httpEmbedTimeout}
	return &httpEmbeddingProvider{
		client: client,
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				v, err := googleEmbedOne(ctx, client, apiKey, model, t)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		},
	}, nil
}

// newHuggingFaceProvider builds an embedding provider over the HuggingFace
// Inference API. Grounded on the original's huggingface_provider factory.
func newHuggingFaceProvider(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	model := cfg.EmbeddingModel
	if model == "" {
		return nil, fmt.Errorf("vectorstore: huggingface provider requires embedding_model")
	}
	apiKey := os.Getenv("CORE_HUGGINGFACE_API_KEY")
	client := &http.Client{Timeout: httpEmbedTimeout}
	return &httpEmbeddingProvider{
		client: client,
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			url := fmt.Sprintf("https://api-inference.huggingface.co/pipeline/feature-extraction/%s", model)
			return jsonArrayEmbed(ctx, client, url, apiKey, texts)
		},
	}, nil
}

// newOllamaProvider builds an embedding provider over a local/self-hosted
// Ollama server's /api/embeddings endpoint. Grounded on the original's
// ollama_provider factory, including the optional custom base URL.
func newOllamaProvider(cfg config.VectorStoreConfig) (EmbeddingProvider, error) {
	model := cfg.EmbeddingModel
	if model == "" {
		return nil, fmt.Errorf("vectorstore: ollama provider requires embedding_model")
	}
	base := os.Getenv("CORE_OLLAMA_URL")
	if base == "" {
		base = "http://localhost:11434"
	}
	client := &http.Client{Timeout: httpEmbedTimeout}
	return &httpEmbeddingProvider{
		client: client,
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				v, err := ollamaEmbedOne(ctx, client, base, model, t)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		},
	}, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func openAICompatibleEmbed(ctx context.Context, url, apiKey, model string, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embeddings request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vectorstore: embeddings request failed: status %d: %s", resp.StatusCode, string(data))
	}
	var out openAIEmbedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("vectorstore: decode embeddings response: %w", err)
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func googleEmbedOne(ctx context.Context, client *http.Client, apiKey, model, text string) ([]float32, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:embedContent?key=%s", model, apiKey)
	payload := map[string]any{
		"model":   "models/" + model,
		"content": map[string]any{"parts": []map[string]string{{"text": text}}},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: google embedContent: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vectorstore: google embedContent failed: status %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("vectorstore: decode google embedContent: %w", err)
	}
	return out.Embedding.Values, nil
}

func jsonArrayEmbed(ctx context.Context, client *http.Client, url, apiKey string, texts []string) ([][]float32, error) {
	body, _ := json.Marshal(map[string]any{"inputs": texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: huggingface inference: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vectorstore: huggingface inference failed: status %d: %s", resp.StatusCode, string(data))
	}
	var out [][]float32
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("vectorstore: decode huggingface inference: %w", err)
	}
	return out, nil
}

func ollamaEmbedOne(ctx context.Context, client *http.Client, base, model, text string) ([]float32, error) {
	body, _ := json.Marshal(map[string]any{"model": model, "prompt": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: ollama embeddings: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vectorstore: ollama embeddings failed: status %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("vectorstore: decode ollama embeddings: %w", err)
	}
	return out.Embedding, nil
}
