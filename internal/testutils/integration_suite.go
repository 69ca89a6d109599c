package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"tubesearch/apps/backend/internal/config"
)

// IntegrationSuite starts the backing services used by integration tests.
// Callers skip it under -short.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	NSQDAddr string
	Redis    *goredis.Client

	dbHost       string
	dbPort       int
	weaviateHost string
	nsqdHTTPAddr string
	redisAddr    string

	containers []testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	s.setupPostgres(ctx)
	s.setupWeaviate(ctx)
	s.setupNSQ(ctx)
	s.setupRedis(ctx)
}

func (s *IntegrationSuite) setupPostgres(ctx context.Context) {
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("tubesearch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.containers = append(s.containers, pgContainer)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbPort = port.Int()

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) setupWeaviate(ctx context.Context) {
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.25.0",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	})

	s.weaviateHost = s.endpoint(ctx, c, "8080")
	var err error
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupNSQ(ctx context.Context) {
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	})

	s.NSQDAddr = s.endpoint(ctx, c, "4150")
	s.nsqdHTTPAddr = s.endpoint(ctx, c, "4151")
	var err error
	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupRedis(ctx context.Context) {
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	s.redisAddr = s.endpoint(ctx, c, "6379")
	s.Redis = goredis.NewClient(&goredis.Options{Addr: s.redisAddr})
}

// GetAppConfig returns a valid application config pointing at the suite's
// containers. Embedding and YouTube keys are placeholders.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		DBHost:                     s.dbHost,
		DBPort:                     s.dbPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "tubesearch_test",
		VectorBackend:              config.BackendPgvector,
		WeaviateHost:               s.weaviateHost,
		WeaviateScheme:             "http",
		EmbeddingProvider:          config.ProviderOpenAI,
		OpenAIAPIKey:               "test-key",
		OpenAIBaseURL:              "http://localhost:1",
		YouTubeAPIKey:              "test-key",
		SegmentationMode:           "semantic",
		SimilarityThreshold:        0.7,
		MinChunkChars:              20,
		ChunkSize:                  300,
		MaxNewVideos:               3,
		MaxPagesToScan:             10,
		NSQDHost:                   s.NSQDAddr,
		NSQDHTTP:                   s.nsqdHTTPAddr,
		WorkerConcurrency:          1,
		RedisAddr:                  s.redisAddr,
		LockTTLSeconds:             60,
		EnableAPI:                  true,
		EnableWorker:               true,
		MigrationPath:              "file://migrations",
		ServerPort:                 8081,
		QueryLogPath:               filepath.Join(s.T.TempDir(), "query.log"),
		LogLevel:                   "debug",
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) start(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.containers = append(s.containers, c)
	return c
}

func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port nat.Port) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	for i := len(s.containers) - 1; i >= 0; i-- {
		s.containers[i].Terminate(ctx)
	}
}
