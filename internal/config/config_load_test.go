package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("CORE_DISCORD_TOKEN", "tok")
	t.Setenv("CORE_VECTORSTORE_DSN", "")

	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ETL.TickIntervalSec != 10 {
		t.Fatalf("expected default tick interval, got %d", cfg.ETL.TickIntervalSec)
	}
	if cfg.Discord.Token != "tok" {
		t.Fatalf("expected env token to be applied")
	}
}

func TestLoadMissingRequiredSecretIsFatal(t *testing.T) {
	t.Setenv("CORE_DISCORD_TOKEN", "")
	t.Setenv("CORE_VECTORSTORE_DSN", "")

	_, err := Load(t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected error for missing discord token")
	}
}

func TestLoadParsesYAMLOverridingDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "etl:\n  tick_interval_sec: 42\nmemory:\n  retention: delete\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CORE_DISCORD_TOKEN", "tok")
	t.Setenv("CORE_VECTORSTORE_DSN", "dsn")

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ETL.TickIntervalSec != 42 {
		t.Fatalf("expected yaml override, got %d", cfg.ETL.TickIntervalSec)
	}
	if cfg.Memory.Retention != "delete" {
		t.Fatalf("expected retention=delete, got %q", cfg.Memory.Retention)
	}
}

func TestEnvProviderPriorityOverridesConfig(t *testing.T) {
	t.Setenv("CORE_DISCORD_TOKEN", "tok")
	t.Setenv("CORE_VECTORSTORE_DSN", "dsn")
	t.Setenv("CORE_PROVIDER_PRIORITY", "openai,anthropic")

	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers.Priority) != 2 || cfg.Providers.Priority[0] != "openai" {
		t.Fatalf("got %v", cfg.Providers.Priority)
	}
}
