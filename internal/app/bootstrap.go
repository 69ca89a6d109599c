package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"tubesearch/apps/backend/internal/adapter/gemini"
	"tubesearch/apps/backend/internal/adapter/memory"
	"tubesearch/apps/backend/internal/adapter/openai"
	"tubesearch/apps/backend/internal/adapter/pgvector"
	redisadapter "tubesearch/apps/backend/internal/adapter/redis"
	wstore "tubesearch/apps/backend/internal/adapter/weaviate"
	"tubesearch/apps/backend/internal/adapter/youtube"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/embedding"
	"tubesearch/apps/backend/internal/lock"
	"tubesearch/apps/backend/internal/pacing"
)

// Dependencies are the external collaborators the application is wired
// from. Bootstrap fills them from config; tests fill them with fakes.
type Dependencies struct {
	DB        *sql.DB
	Store     VectorStore
	Embedder  Embedder
	Videos    VideoSource
	Locker    lock.Locker
	Publisher TaskPublisher

	closers []func() error
}

// Close releases everything Bootstrap opened, last opened first.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
	d.closers = nil
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (_ *Dependencies, err error) {
	deps := &Dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	deps.DB = db
	deps.onClose(db.Close)

	if err := pingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		return nil, err
	}

	deps.Store, err = newVectorStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("embedding provider error: %w", err)
	}
	deps.Embedder = embedding.NewClient(provider, newPacer(cfg))

	deps.Videos, err = youtube.NewClient(ctx, cfg.YouTubeAPIKey, nil)
	if err != nil {
		return nil, err
	}

	deps.Locker, err = newLocker(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.Publisher = producer
	deps.onClose(func() error { producer.Stop(); return nil })

	// nsqd creates topics lazily on publish; consumers polling lookupd
	// before the first publish would otherwise see 404s.
	go func() {
		time.Sleep(2 * time.Second)
		createTopics(ctx, http.DefaultClient, cfg.NSQDHTTP)
	}()

	return deps, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied", "path", path)
	return nil
}

func newVectorStore(ctx context.Context, cfg *config.Config, db *sql.DB) (VectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		slog.Warn("using in-memory vector store; chunks are lost on restart")
		return memory.NewStore(), nil
	case config.BackendPgvector, "":
		return pgvector.NewStore(db, cfg.EmbeddingDimensions), nil
	}
	return nil, fmt.Errorf("%w: VECTOR_BACKEND=%q", config.ErrInvalidValue, cfg.VectorBackend)
}

func newProvider(ctx context.Context, cfg *config.Config, deps *Dependencies) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		deps.onClose(e.Close)
		return e, nil
	case config.ProviderOpenAI, "":
		e := openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		e.SetBaseURL(cfg.OpenAIBaseURL)
		return e, nil
	}
	return nil, fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", config.ErrInvalidValue, cfg.EmbeddingProvider)
}

// newPacer prefers a token bucket when a rate is configured, then a fixed
// interval, and otherwise does not pace at all.
func newPacer(cfg *config.Config) pacing.Pacer {
	switch {
	case cfg.EmbedRatePerSec > 0:
		return pacing.NewTokenBucket(cfg.EmbedRatePerSec, 1)
	case cfg.EmbedMinIntervalMS > 0:
		return pacing.NewInterval(time.Duration(cfg.EmbedMinIntervalMS) * time.Millisecond)
	default:
		return pacing.None
	}
}

func newLocker(ctx context.Context, cfg *config.Config, deps *Dependencies) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set, using in-process ingestion locks")
		return lock.NewLocalLocker(), nil
	}
	client, err := redisadapter.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	deps.onClose(client.Close)
	return redisadapter.NewLocker(client), nil
}

func createTopics(ctx context.Context, client *http.Client, nsqdHTTP string) {
	for _, topic := range config.Topics {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("NSQ topic creation rejected", "topic", topic, "status", resp.StatusCode)
		}
	}
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// EnsureSchemaWithRetry retries schema setup while the vector database is
// still starting.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
