package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Dedup       DedupConfig     `toml:"dedup"`
	Approval    ApprovalConfig  `toml:"approval"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Ingestion   IngestionConfig `toml:"ingestion"`
	Streaming   StreamingConfig `toml:"streaming"`
	Artifacts   ArtifactsConfig `toml:"artifacts"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Auth        AuthConfig      `toml:"auth"`
	Logging     LoggingConfig   `toml:"logging"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
}

type ServerConfig struct {
	Port           int    `toml:"port"`
	Host           string `toml:"host"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"` // Multipart upload cap for /ingest and /admin/restore
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	Blob   BlobConfig   `toml:"blob"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BlobConfig configures the filesystem-backed blob store used for large
// artifact payloads and restore temp files.
type BlobConfig struct {
	Path string `toml:"path"` // Blob directory path
}

type QueueConfig struct {
	CompletedRetentionHours int    `toml:"completed_retention_hours"` // Retain completed jobs (default: 48)
	FailedRetentionHours    int    `toml:"failed_retention_hours"`    // Retain failed jobs (default: 168)
	ApprovalTimeoutHours    int    `toml:"approval_timeout_hours"`    // awaiting_approval expiry (default: 24)
	CleanupIntervalSeconds  int    `toml:"cleanup_interval_seconds"`  // Retention sweep interval (default: 3600)
	MaxConcurrentWorkers    int    `toml:"max_concurrent_workers"`    // Worker slots
	DispatchInterval        string `toml:"dispatch_interval"`         // How often the dispatcher scans for approved jobs
	HeartbeatTimeoutMinutes int    `toml:"heartbeat_timeout_minutes"` // Running job with no heartbeat is reset to queued
}

type DedupConfig struct {
	Strategy  string `toml:"strategy"`  // "content_hash_and_ontology"
	Algorithm string `toml:"algorithm"` // "sha256"
}

type ApprovalConfig struct {
	AutoApproveUnderCostCents int `toml:"auto_approve_under_cost_cents"`
	AutoApproveUnderChunks    int `toml:"auto_approve_under_chunks"`
}

type EmbeddingConfig struct {
	ActiveProfileID string `toml:"active_profile_id"`
	Dimensions      int    `toml:"dimensions"`
	Normalize       bool   `toml:"normalize"`
	QueryPrefix     string `toml:"query_prefix"`
	DocumentPrefix  string `toml:"document_prefix"`
}

type IngestionConfig struct {
	ChunkSizeChars       int     `toml:"chunk_size_chars"`
	ChunkOverlapChars    int     `toml:"chunk_overlap_chars"`
	MinConceptSimilarity float64 `toml:"min_concept_similarity"` // Cosine threshold for concept matching
	MinSearchSimilarity  float64 `toml:"min_search_similarity"`
	MinTypeSimilarity    float64 `toml:"min_type_similarity"` // Threshold for canonical relationship-type substitution
}

type StreamingConfig struct {
	SSEPollIntervalMs     int `toml:"sse_poll_interval_ms"`
	SSEKeepaliveSeconds   int `toml:"sse_keepalive_seconds"`
	SSEIdleTimeoutSeconds int `toml:"sse_idle_timeout_seconds"`
}

type ArtifactsConfig struct {
	InlineThresholdBytes int `toml:"inline_threshold_bytes"`
	LocalStorageCacheMB  int `toml:"localstorage_cache_mb"`
}

type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	TickInterval string `toml:"tick_interval"` // Dispatcher tick, must be <= smallest cron resolution
}

type AuthConfig struct {
	Enabled              bool `toml:"enabled"`                // Authentication requirement toggle, applied at request time
	AccessTokenTTLHours  int  `toml:"access_token_ttl_hours"` // OAuth access token lifetime
	RefreshTokenTTLHours int  `toml:"refresh_token_ttl_hours"`
	DeviceCodeTTLMinutes int  `toml:"device_code_ttl_minutes"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ClaudeConfig contains Anthropic Claude API configuration for concept extraction
type ClaudeConfig struct {
	APIKey                string  `toml:"api_key"`
	Model                 string  `toml:"model"`
	MaxTokens             int     `toml:"max_tokens"`
	Timeout               string  `toml:"timeout"`
	RateLimit             string  `toml:"rate_limit"` // Minimum interval between requests
	MaxConcurrentRequests int     `toml:"max_concurrent_requests"`
	MaxRetries            int     `toml:"max_retries"`
	Temperature           float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API configuration for embeddings
type GeminiConfig struct {
	APIKey                string `toml:"api_key"`
	Model                 string `toml:"model"`
	Timeout               string `toml:"timeout"`
	RateLimit             string `toml:"rate_limit"`
	MaxConcurrentRequests int    `toml:"max_concurrent_requests"`
	MaxRetries            int    `toml:"max_retries"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			MaxUploadBytes: 64 * 1024 * 1024, // 64MB upload cap
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Blob: BlobConfig{
				Path: "./data/blobs",
			},
		},
		Queue: QueueConfig{
			CompletedRetentionHours: 48,
			FailedRetentionHours:    168,
			ApprovalTimeoutHours:    24,
			CleanupIntervalSeconds:  3600,
			MaxConcurrentWorkers:    4,
			DispatchInterval:        "500ms",
			HeartbeatTimeoutMinutes: 15,
		},
		Dedup: DedupConfig{
			Strategy:  "content_hash_and_ontology",
			Algorithm: "sha256",
		},
		Approval: ApprovalConfig{
			AutoApproveUnderCostCents: 100,
			AutoApproveUnderChunks:    50,
		},
		Embedding: EmbeddingConfig{
			ActiveProfileID: "gemini-default",
			Dimensions:      768,
			Normalize:       true,
			QueryPrefix:     "",
			DocumentPrefix:  "",
		},
		Ingestion: IngestionConfig{
			ChunkSizeChars:       2000,
			ChunkOverlapChars:    200,
			MinConceptSimilarity: 0.85,
			MinSearchSimilarity:  0.5,
			MinTypeSimilarity:    0.70,
		},
		Streaming: StreamingConfig{
			SSEPollIntervalMs:     500,
			SSEKeepaliveSeconds:   30,
			SSEIdleTimeoutSeconds: 300,
		},
		Artifacts: ArtifactsConfig{
			InlineThresholdBytes: 10_240,
			LocalStorageCacheMB:  50,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: "30s",
		},
		Auth: AuthConfig{
			Enabled:              true,
			AccessTokenTTLHours:  8,
			RefreshTokenTTLHours: 720,
			DeviceCodeTTLMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Claude: ClaudeConfig{
			APIKey:                "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:                 "claude-haiku-3-5-20241022",
			MaxTokens:             8192,
			Timeout:               "5m",
			RateLimit:             "1s",
			MaxConcurrentRequests: 4,
			MaxRetries:            3,
			Temperature:           0.2,
		},
		Gemini: GeminiConfig{
			APIKey:                "",
			Model:                 "gemini-embedding-001",
			Timeout:               "2m",
			RateLimit:             "250ms",
			MaxConcurrentRequests: 8,
			MaxRetries:            3,
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COGNATIO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("COGNATIO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COGNATIO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("COGNATIO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if blobPath := os.Getenv("COGNATIO_BLOB_PATH"); blobPath != "" {
		config.Storage.Blob.Path = blobPath
	}

	if workers := os.Getenv("COGNATIO_QUEUE_MAX_CONCURRENT_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.MaxConcurrentWorkers = w
		}
	}
	if retention := os.Getenv("COGNATIO_QUEUE_COMPLETED_RETENTION_HOURS"); retention != "" {
		if h, err := strconv.Atoi(retention); err == nil {
			config.Queue.CompletedRetentionHours = h
		}
	}
	if retention := os.Getenv("COGNATIO_QUEUE_FAILED_RETENTION_HOURS"); retention != "" {
		if h, err := strconv.Atoi(retention); err == nil {
			config.Queue.FailedRetentionHours = h
		}
	}

	if level := os.Getenv("COGNATIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if enabled := os.Getenv("COGNATIO_AUTH_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Auth.Enabled = b
		}
	}

	if enabled := os.Getenv("COGNATIO_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("COGNATIO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // COGNATIO_ prefix takes priority
	}
	if model := os.Getenv("COGNATIO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Gemini configuration
	if apiKey := os.Getenv("COGNATIO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("COGNATIO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DispatchIntervalDuration parses the dispatcher interval with a safe fallback.
func (c *QueueConfig) DispatchIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.DispatchInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// TickIntervalDuration parses the scheduler tick interval with a safe fallback.
func (c *SchedulerConfig) TickIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PollInterval returns the SSE poll interval as a duration.
func (c *StreamingConfig) PollInterval() time.Duration {
	if c.SSEPollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.SSEPollIntervalMs) * time.Millisecond
}

// KeepaliveInterval returns the SSE keepalive interval as a duration.
func (c *StreamingConfig) KeepaliveInterval() time.Duration {
	if c.SSEKeepaliveSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SSEKeepaliveSeconds) * time.Second
}

// IdleTimeout returns the SSE idle timeout as a duration.
func (c *StreamingConfig) IdleTimeout() time.Duration {
	if c.SSEIdleTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.SSEIdleTimeoutSeconds) * time.Second
}
