package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendPgvector = "pgvector"
	BackendWeaviate = "weaviate"
	BackendMemory   = "memory"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"tubesearch"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"tubesearch"`

	// Vector store
	VectorBackend       string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	WeaviateHost        string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme      string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"0"` // 0 disables the check

	// Embedding
	EmbeddingProvider  string  `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL"`
	OpenAIAPIKey       string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiAPIKey       string  `envconfig:"GEMINI_API_KEY"`
	EmbedMinIntervalMS int     `envconfig:"EMBED_MIN_INTERVAL_MS" default:"1000"`
	EmbedRatePerSec    float64 `envconfig:"EMBED_RATE_PER_SEC" default:"0"` // > 0 switches to a token bucket

	YouTubeAPIKey string `envconfig:"YOUTUBE_API_KEY"`

	// Segmentation defaults for requests that do not override them
	SegmentationMode    string  `envconfig:"SEGMENTATION_MODE" default:"semantic"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`
	MinChunkChars       int     `envconfig:"MIN_CHUNK_CHARS" default:"20"`
	ChunkSize           int     `envconfig:"CHUNK_SIZE" default:"300"`
	EmbedRetries        int     `envconfig:"EMBED_RETRIES" default:"0"`
	MaxNewVideos        int     `envconfig:"MAX_NEW_VIDEOS" default:"3"`
	MaxPagesToScan      int     `envconfig:"MAX_PAGES_TO_SCAN" default:"10"`

	NSQLookupd        string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost          string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP          string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`

	RedisAddr      string `envconfig:"REDIS_ADDR"` // empty uses an in-process lock
	LockTTLSeconds int    `envconfig:"LOCK_TTL_SECONDS" default:"900"`

	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker  bool   `envconfig:"ENABLE_WORKER" default:"true"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; both files are optional.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.YouTubeAPIKey == "" {
		return fmt.Errorf("%w: YOUTUBE_API_KEY", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case BackendPgvector, BackendWeaviate, BackendMemory:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}

	if c.SegmentationMode != "semantic" && c.SegmentationMode != "fixed" {
		return fmt.Errorf("%w: SEGMENTATION_MODE=%q", ErrInvalidValue, c.SegmentationMode)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be in (0,1)", ErrInvalidValue)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalidValue)
	}
	if c.EmbedRetries < 0 {
		return fmt.Errorf("%w: EMBED_RETRIES must not be negative", ErrInvalidValue)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
