package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

const envConfigRoot = "CORE_CONFIG_ROOT"

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			ChatHost: "discord.com",
		},
		Gateway: GatewayConfig{
			MaxRetries:     2,
			BaseDelayMs:    600,
			Jitter:         0.4,
			TimeoutCeilSec: 6,
		},
		Logging: LoggingConfig{
			BasePath:         "logs",
			BatchSize:        500,
			FlushIntervalSec: 2,
			StashPath:        "logs/emergency_stash.ndjson",
		},
		Database: DatabaseConfig{
			Path: "data/core.db",
		},
		VectorStore: VectorStoreConfig{
			EmbeddingProvider: "base",
			Dimension:         1536,
		},
		Memory: MemoryConfig{
			MaxResults:   6,
			VectorWeight: 0.7,
			TextWeight:   0.3,
			MinScore:     0.35,
			Retention:    "archive",
		},
		ETL: ETLConfig{
			TickIntervalSec: 10,
			PendingLimit:    100,
			FetchRetries:    3,
			BackoffBaseSec:  1,
		},
		Dispatcher: DispatcherConfig{
			HistoryWindow:         10,
			MaxParallelWorkers:    4,
			DefaultToolTimeoutSec: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pigpig-core",
		},
	}
}

// RootDir resolves the config root directory: CORE_CONFIG_ROOT if set,
// otherwise "./config".
func RootDir() string {
	if v := os.Getenv(envConfigRoot); v != "" {
		return v
	}
	return "config"
}

// Load reads config.yaml from root (or RootDir() if root is empty), overlays
// env-var secrets, and validates required secrets. Load failures for the
// YAML file itself are reported through reporter but fall back to defaults
// where continuing is safe; a missing required secret is fatal.
func Load(root string, reporter telemetry.ErrorReporter) (*Config, error) {
	if root == "" {
		root = RootDir()
	}
	if reporter == nil {
		reporter = telemetry.NewMailbox(8, nil)
	}

	cfg := Default()
	path := filepath.Join(root, "config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			reporter.ReportError("config", err, map[string]any{"path": path})
		}
		cfg.applyEnvOverrides()
		return cfg, cfg.validateSecrets()
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		reporter.ReportError("config", fmt.Errorf("parse config: %w", err), map[string]any{"path": path})
		cfg = Default()
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validateSecrets()
}

// applyEnvOverrides overlays secrets and a handful of operational knobs from
// the environment. Env vars always take precedence over the YAML file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("CORE_DISCORD_TOKEN", &c.Discord.Token)
	envStr("CORE_DISCORD_APPLICATION_ID", &c.Discord.ApplicationID)

	envStr("CORE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CORE_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("CORE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CORE_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)
	envStr("CORE_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("CORE_DASHSCOPE_API_KEY", &c.Providers.DashScope.APIKey)

	envStr("CORE_VECTORSTORE_DSN", &c.VectorStore.DSN)

	envStr("CORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("CORE_PROVIDER_PRIORITY"); v != "" {
		c.Providers.Priority = strings.Split(v, ",")
	}
	if v := os.Getenv("CORE_MEMORY_RETENTION"); v != "" {
		c.Memory.Retention = v
	}
	if v := os.Getenv("CORE_ETL_TICK_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ETL.TickIntervalSec = n
		}
	}
}

// validateSecrets fails fatally-observable when a secret required for the
// core to function at all is missing: the Discord token and the vector
// store DSN (unless the embedding provider is "base", the zero-vector
// test provider that needs no external store).
func (c *Config) validateSecrets() error {
	var missing []string
	if c.Discord.Token == "" {
		missing = append(missing, "CORE_DISCORD_TOKEN")
	}
	if c.VectorStore.DSN == "" && c.VectorStore.EmbeddingProvider != "base" {
		missing = append(missing, "CORE_VECTORSTORE_DSN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Save writes cfg to root/config.yaml, creating the directory if needed.
// Secrets (yaml:"-" fields) are never written.
func Save(root string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := yaml.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "config.yaml"), data, 0o644)
}
