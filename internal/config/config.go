// Package config loads the core's YAML configuration: provider priorities,
// memory/vectorstore thresholds, logging, ETL cadence, and dispatcher limits.
// Secrets never live in the YAML file; they load from environment variables
// and a missing required secret is a fatal, observable exit.
package config

import (
	"sync"
)

// Config is the root configuration for the core.
type Config struct {
	Discord     DiscordConfig     `yaml:"discord"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Memory      MemoryConfig      `yaml:"memory"`
	ETL         ETLConfig         `yaml:"etl"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	mu sync.RWMutex
}

// DiscordConfig configures the Discord chat-service collaborator.
type DiscordConfig struct {
	Token         string `yaml:"-"` // from env CORE_DISCORD_TOKEN only
	ApplicationID string `yaml:"application_id,omitempty"`
	ChatHost      string `yaml:"chat_host,omitempty"` // used to build jump_url, default "discord.com"
}

// ProvidersConfig holds per-vendor API configuration, keyed by provider name.
// Secrets are never read from YAML; see applyEnvOverrides.
type ProvidersConfig struct {
	Priority  []string         `yaml:"priority,omitempty"` // provider iteration order; empty = registration order
	Anthropic ProviderEndpoint `yaml:"anthropic,omitempty"`
	OpenAI    ProviderEndpoint `yaml:"openai,omitempty"`
	Gemini    ProviderEndpoint `yaml:"gemini,omitempty"`
	DashScope ProviderEndpoint `yaml:"dashscope,omitempty"`
}

// ProviderEndpoint is the per-provider non-secret configuration.
type ProviderEndpoint struct {
	APIKey  string `yaml:"-"` // from env only, see applyEnvOverrides
	APIBase string `yaml:"api_base,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// GatewayConfig configures LLM Gateway retry policy.
type GatewayConfig struct {
	MaxRetries     int     `yaml:"max_retries,omitempty"`         // default 2
	BaseDelayMs    int     `yaml:"base_delay_ms,omitempty"`       // default 600
	Jitter         float64 `yaml:"jitter,omitempty"`              // default 0.4
	TimeoutCeilSec int     `yaml:"timeout_ceiling_sec,omitempty"` // default 6
}

// LoggingConfig configures the structured logging sink.
type LoggingConfig struct {
	BasePath         string `yaml:"base_path,omitempty"`          // default "logs"
	BatchSize        int    `yaml:"batch_size,omitempty"`         // default 500
	FlushIntervalSec int    `yaml:"flush_interval_sec,omitempty"` // default 2
	FsyncOnFlush     bool   `yaml:"fsync_on_flush,omitempty"`
	ConsoleColor     bool   `yaml:"console_color,omitempty"`
	StashPath        string `yaml:"stash_path,omitempty"` // default "logs/emergency_stash.ndjson"
}

// DatabaseConfig configures the embedded relational store.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // default "data/core.db"
}

// VectorStoreConfig configures the pgvector-backed memory index.
type VectorStoreConfig struct {
	DSN               string `yaml:"-"` // from env CORE_VECTORSTORE_DSN only
	EmbeddingProvider string `yaml:"embedding_provider,omitempty"` // "base","openai","google","huggingface","ollama"
	EmbeddingModel    string `yaml:"embedding_model,omitempty"`
	Dimension         int    `yaml:"dimension,omitempty"` // default 1536
}

// MemoryConfig configures episodic memory search weighting and caps.
type MemoryConfig struct {
	MaxResults   int     `yaml:"max_results,omitempty"`   // default 6
	VectorWeight float64 `yaml:"vector_weight,omitempty"` // default 0.7
	TextWeight   float64 `yaml:"text_weight,omitempty"`   // default 0.3
	MinScore     float64 `yaml:"min_score,omitempty"`     // default 0.35
	Retention    string  `yaml:"retention,omitempty"`      // "archive" (default) or "delete"
}

// ETLConfig configures the Episodic ETL Service cadence.
type ETLConfig struct {
	TickIntervalSec int `yaml:"tick_interval_sec,omitempty"` // default 10
	PendingLimit    int `yaml:"pending_limit,omitempty"`     // default 100
	FetchRetries    int `yaml:"fetch_retries,omitempty"`     // default 3
	BackoffBaseSec  int `yaml:"backoff_base_sec,omitempty"`  // default 1
}

// DispatcherConfig configures the Action Dispatcher.
type DispatcherConfig struct {
	HistoryWindow         int `yaml:"history_window,omitempty"`          // default 10
	MaxParallelWorkers    int `yaml:"max_parallel_workers,omitempty"`    // default 4
	DefaultToolTimeoutSec int `yaml:"default_tool_timeout_sec,omitempty"` // default 30
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"` // default "pigpig-core"
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Discord = src.Discord
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Logging = src.Logging
	c.Database = src.Database
	c.VectorStore = src.VectorStore
	c.Memory = src.Memory
	c.ETL = src.ETL
	c.Dispatcher = src.Dispatcher
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of c safe to read without holding the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
