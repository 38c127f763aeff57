// Package config loads the typed configuration the orchestrator core is
// instantiated with. Loading itself (env vars, optional .env overlay) is
// ambient tooling around the core, not part of the core's domain surface.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the full set of values the core is wired up with.
type Config struct {
	// Env is the environment name (development, staging, production).
	Env string

	OTel     OTelConfig
	Memory   MemoryConfig
	Workflow WorkflowConfig
	Dispatch DispatchConfig

	// Providers maps provider name -> its settings. ActiveProvider names the
	// entry the Provider Registry prefers absent a per-request override.
	Providers      map[string]ProviderConfig
	ActiveProvider string
}

// OTelConfig controls the optional OTLP tracing/logging export.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether an OTLP endpoint was configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// MemoryConfig configures the embedded Memory Repository store.
type MemoryConfig struct {
	// DBPath is the path to the single-file embedded database.
	DBPath string
	// SeedDir is scanned at startup for JSON seed records.
	SeedDir string
	// CacheSize and CacheTTLSeconds configure the optional LRU cache layer.
	CacheSize      int
	CacheTTLSeconds int
}

// WorkflowConfig configures Workflow Engine defaults (overridable per Execute call).
type WorkflowConfig struct {
	Mode                 string // "sequential" or "parallel"
	Parallelism          int
	MaxRetries           int
	CheckpointIntervalMs int
	CheckpointDir        string
	TimeoutMs            int
}

// DispatchConfig configures the optional Redis Streams mirror transport used
// in parallel mode (see SPEC_FULL.md §4.2). Empty RedisURL disables mirroring.
type DispatchConfig struct {
	RedisURL string
	Group    string
	Consumer string
}

// ProviderConfig mirrors the record described in SPEC_FULL.md §3.
type ProviderConfig struct {
	Name       string
	Type       string // "openai", "anthropic", "local"
	Model      string
	APIKey     string
	BaseURL    string
	TimeoutMs  int
	MaxRetries int
	RetryDelayMs int

	RateLimit RateLimitConfig
	Breaker   BreakerConfig
}

// RateLimitConfig configures the per-provider token bucket.
type RateLimitConfig struct {
	MaxTokens         int
	RefillRate        int
	RefillIntervalMs  int
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	CooldownMs       int
}

// Load loads configuration from environment variables, optionally overlaid
// from a local .env file (ignored if absent), exactly as the teacher's
// core/config.Load does for its own settings.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env: getEnv("ORCHESTRATOR_ENV", "development"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "orchestrator"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Memory: MemoryConfig{
			DBPath:          getEnv("MEMORY_DB_PATH", "data/memory.db"),
			SeedDir:         getEnv("MEMORY_SEED_DIR", "data/seed/memory"),
			CacheSize:       getEnvInt("MEMORY_CACHE_SIZE", 512),
			CacheTTLSeconds: getEnvInt("MEMORY_CACHE_TTL_SECONDS", 300),
		},
		Workflow: WorkflowConfig{
			Mode:                 getEnv("WORKFLOW_MODE", "sequential"),
			Parallelism:          getEnvInt("WORKFLOW_PARALLELISM", 4),
			MaxRetries:           getEnvInt("WORKFLOW_MAX_RETRIES", 3),
			CheckpointIntervalMs: getEnvInt("WORKFLOW_CHECKPOINT_INTERVAL_MS", 0),
			CheckpointDir:        getEnv("WORKFLOW_CHECKPOINT_DIR", "workflow/reports"),
			TimeoutMs:            getEnvInt("WORKFLOW_TIMEOUT_MS", 0),
		},
		Dispatch: DispatchConfig{
			RedisURL: getEnv("DISPATCH_REDIS_URL", ""),
			Group:    getEnv("DISPATCH_REDIS_GROUP", "orchestrator-workers"),
			Consumer: getEnv("DISPATCH_REDIS_CONSUMER", "worker-1"),
		},
		ActiveProvider: getEnv("ACTIVE_PROVIDER", "openai"),
	}

	cfg.Providers = loadProviders()

	return cfg
}

// loadProviders builds the ProviderConfig set from PROVIDERS (a comma
// separated name list) plus PROVIDER_<NAME>_* env vars per entry. A
// development default of a single "openai" provider is used when PROVIDERS
// is unset, matching how the rest of the config falls back to sensible
// development defaults.
func loadProviders() map[string]ProviderConfig {
	names := getEnv("PROVIDERS", "openai")
	result := make(map[string]ProviderConfig)

	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := "PROVIDER_" + strings.ToUpper(name) + "_"

		result[name] = ProviderConfig{
			Name:         name,
			Type:         getEnv(prefix+"TYPE", name),
			Model:        getEnv(prefix+"MODEL", ""),
			APIKey:       getEnv(prefix+"API_KEY", ""),
			BaseURL:      getEnv(prefix+"BASE_URL", ""),
			TimeoutMs:    getEnvInt(prefix+"TIMEOUT_MS", 30000),
			MaxRetries:   getEnvInt(prefix+"MAX_RETRIES", 2),
			RetryDelayMs: getEnvInt(prefix+"RETRY_DELAY_MS", 500),
			RateLimit: RateLimitConfig{
				MaxTokens:        getEnvInt(prefix+"RATE_LIMIT_MAX_TOKENS", 60),
				RefillRate:       getEnvInt(prefix+"RATE_LIMIT_REFILL_RATE", 60),
				RefillIntervalMs: getEnvInt(prefix+"RATE_LIMIT_REFILL_INTERVAL_MS", 1000),
			},
			Breaker: BreakerConfig{
				FailureThreshold: getEnvInt(prefix+"BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvInt(prefix+"BREAKER_SUCCESS_THRESHOLD", 2),
				CooldownMs:       getEnvInt(prefix+"BREAKER_COOLDOWN_MS", 60000),
			},
		}
	}

	return result
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
