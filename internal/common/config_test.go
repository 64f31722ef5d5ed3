package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Ingestion.MinConceptSimilarity != 0.85 {
		t.Errorf("expected concept similarity threshold 0.85, got %f", cfg.Ingestion.MinConceptSimilarity)
	}
	if cfg.Ingestion.MinTypeSimilarity != 0.70 {
		t.Errorf("expected type similarity threshold 0.70, got %f", cfg.Ingestion.MinTypeSimilarity)
	}
	if cfg.Artifacts.InlineThresholdBytes != 10_240 {
		t.Errorf("expected inline threshold 10240, got %d", cfg.Artifacts.InlineThresholdBytes)
	}
	if !cfg.Auth.Enabled {
		t.Error("auth should be enabled by default")
	}
	if !cfg.Scheduler.Enabled {
		t.Error("scheduler should be enabled by default")
	}
}

func TestLoadFromFile_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cognatio.toml")
	content := `
environment = "production"

[server]
port = 9090

[queue]
max_concurrent_workers = 8

[ingestion]
min_concept_similarity = 0.9
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if !cfg.IsProduction() {
		t.Error("environment override not applied")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Queue.MaxConcurrentWorkers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Queue.MaxConcurrentWorkers)
	}
	if cfg.Ingestion.MinConceptSimilarity != 0.9 {
		t.Errorf("expected similarity 0.9, got %f", cfg.Ingestion.MinConceptSimilarity)
	}
	// Untouched sections keep defaults
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Queue.CompletedRetentionHours != 48 {
		t.Errorf("expected default retention, got %d", cfg.Queue.CompletedRetentionHours)
	}
}

func TestLoadFromFile_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cognatio.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 9090\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("COGNATIO_SERVER_PORT", "7070")
	t.Setenv("COGNATIO_AUTH_ENABLED", "false")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env must override file, got port %d", cfg.Server.Port)
	}
	if cfg.Auth.Enabled {
		t.Error("COGNATIO_AUTH_ENABLED=false not applied")
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/cognatio.toml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 6060, "0.0.0.0")
	if cfg.Server.Port != 6060 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("flag overrides not applied: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	ApplyFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != 6060 || cfg.Server.Host != "0.0.0.0" {
		t.Error("zero-value flags must not clobber config")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Queue.DispatchIntervalDuration() != 500*time.Millisecond {
		t.Errorf("unexpected dispatch interval: %v", cfg.Queue.DispatchIntervalDuration())
	}
	if cfg.Scheduler.TickIntervalDuration() != 30*time.Second {
		t.Errorf("unexpected tick interval: %v", cfg.Scheduler.TickIntervalDuration())
	}

	bad := QueueConfig{DispatchInterval: "not-a-duration"}
	if bad.DispatchIntervalDuration() != 500*time.Millisecond {
		t.Error("invalid interval must fall back to default")
	}

	var streaming StreamingConfig
	if streaming.PollInterval() != 500*time.Millisecond {
		t.Error("zero poll interval must fall back")
	}
	if streaming.KeepaliveInterval() != 30*time.Second {
		t.Error("zero keepalive must fall back")
	}
	if streaming.IdleTimeout() != 300*time.Second {
		t.Error("zero idle timeout must fall back")
	}
}
