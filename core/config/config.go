package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/core/db"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// NLPLLM is the language model used by the query analyzer.
	NLPLLM llm.Config

	// Embedding configures the query-embedding provider.
	Embedding EmbeddingConfig

	// RateLimit holds the per-hour admission limits for model calls.
	RateLimit RateLimitConfig

	// Cache selects the remote KV backend; empty URL means in-process.
	Cache CacheConfig

	// ArangoDB backs the business + vector store.
	ArangoDB ArangoConfig

	// Typesense backs the keyword retriever's full-text scan.
	Typesense TypesenseConfig

	// DB holds the optional telemetry sink database.
	DB db.Config

	// Pipeline holds orchestrator and queue tunables.
	Pipeline PipelineConfig

	// OTel holds tracing/log export settings.
	OTel OTelConfig
}

type EmbeddingConfig struct {
	// LLM carries the embedding provider credentials. Falls back to the
	// NLP model's key when EMBEDDING_LLM_API_KEY is unset.
	LLM llm.Config

	// Dimension is the deploy-time vector dimension shared by query and
	// business vectors. Mismatches are a contract violation, not a retry.
	Dimension int

	// Version tags which stored business vectors this deployment reads.
	Version string
}

type RateLimitConfig struct {
	UserPerHour   int
	IPPerHour     int
	GlobalPerHour int
}

type CacheConfig struct {
	RedisURL string
}

// Enabled reports whether a remote cache backend was configured. Absent
// credentials select the in-process cache.
func (c CacheConfig) Enabled() bool {
	return c.RedisURL != ""
}

type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c ArangoConfig) Enabled() bool {
	return c.URL != ""
}

type TypesenseConfig struct {
	URL        string
	APIKey     string
	Collection string
}

func (c TypesenseConfig) Enabled() bool {
	return c.URL != ""
}

type PipelineConfig struct {
	// RequestTimeout is the end-to-end budget for one process_query call.
	RequestTimeout time.Duration

	// PageSize bounds the ranked result list returned to the caller.
	PageSize int

	// StrictCategoryFilter disables the "don't over-filter" guardrail so
	// zero-result category filters surface as real zero-result responses.
	StrictCategoryFilter bool

	// FingerprintComponents is how many leading embedding components are
	// hashed into the similarity cache key.
	FingerprintComponents int

	// Redis Streams settings for the async ingestion front door.
	RedisURL       string
	RedisStream    string
	RedisGroup     string
	RedisConsumer  string
	RedisDLQStream string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load loads configuration from environment variables.
// It provides sensible defaults for development.
func Load() (Config, error) {
	// Development convenience; in production the environment is the
	// source of truth and a missing .env is expected.
	_ = godotenv.Load()

	nlpKey := getEnv("NLP_LLM_API_KEY", "")
	embeddingKey := getEnv("EMBEDDING_LLM_API_KEY", nlpKey)

	cfg := Config{
		Env: getEnv("QUERYCORE_ENV", "development"),
		NLPLLM: llm.Config{
			Provider: llm.Provider(getEnv("NLP_LLM_PROVIDER", string(llm.ProviderOpenAI))),
			APIKey:   nlpKey,
			BaseURL:  getEnv("NLP_LLM_BASE_URL", ""),
			Model:    getEnv("NLP_LLM_MODEL", ""),
		},
		Embedding: EmbeddingConfig{
			LLM: llm.Config{
				Provider: llm.ProviderOpenAI,
				APIKey:   embeddingKey,
				BaseURL:  getEnv("EMBEDDING_LLM_BASE_URL", ""),
				Model:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			},
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1024),
			Version:   getEnv("EMBEDDING_VERSION", "v1"),
		},
		RateLimit: RateLimitConfig{
			UserPerHour:   getEnvInt("RATE_LIMIT_USER_PER_HOUR", 100),
			IPPerHour:     getEnvInt("RATE_LIMIT_IP_PER_HOUR", 200),
			GlobalPerHour: getEnvInt("RATE_LIMIT_GLOBAL_PER_HOUR", 1000),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("CACHE_REDIS_URL", ""),
		},
		ArangoDB: ArangoConfig{
			URL:      getEnv("ARANGODB_URL", ""),
			Username: getEnv("ARANGODB_USERNAME", "root"),
			Password: getEnv("ARANGODB_PASSWORD", ""),
			Database: getEnv("ARANGODB_DATABASE", "placefinder"),
		},
		Typesense: TypesenseConfig{
			URL:        getEnv("TYPESENSE_URL", ""),
			APIKey:     getEnv("TYPESENSE_API_KEY", ""),
			Collection: getEnv("TYPESENSE_COLLECTION", "businesses"),
		},
		DB: db.Config{
			DSN:      getEnv("TELEMETRY_DATABASE_DSN", ""),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Pipeline: PipelineConfig{
			RequestTimeout:        time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
			PageSize:              getEnvInt("RESULT_PAGE_SIZE", 20),
			StrictCategoryFilter:  getEnvBool("STRICT_CATEGORY_FILTER", false),
			FingerprintComponents: getEnvInt("EMBEDDING_FINGERPRINT_COMPONENTS", 10),
			RedisURL:              getEnv("QUEUE_REDIS_URL", getEnv("CACHE_REDIS_URL", "")),
			RedisStream:           getEnv("QUEUE_REDIS_STREAM", "search_queries"),
			RedisGroup:            getEnv("QUEUE_REDIS_GROUP", "querycore"),
			RedisConsumer:         getEnv("QUEUE_REDIS_CONSUMER", defaultConsumerName()),
			RedisDLQStream:        getEnv("QUEUE_REDIS_DLQ_STREAM", "search_queries_dlq"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "querycore"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}

	if cfg.Embedding.Dimension != 1024 && cfg.Embedding.Dimension != 1536 {
		return Config{}, fmt.Errorf("EMBEDDING_DIMENSION must be 1024 or 1536, got %d", cfg.Embedding.Dimension)
	}

	return cfg, nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "querycore-worker"
	}
	return "querycore-" + host
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

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
