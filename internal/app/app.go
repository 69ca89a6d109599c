package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tubesearch/apps/backend/features/ingestion"
	"tubesearch/apps/backend/features/job"
	"tubesearch/apps/backend/features/mcp"
	"tubesearch/apps/backend/features/search"
	"tubesearch/apps/backend/features/stats"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/ingest"
	"tubesearch/apps/backend/internal/lock"
	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/retrieval"
	"tubesearch/apps/backend/internal/worker"
)

type VectorStore interface {
	ingest.Store
	ingest.SourceIndex
	retrieval.VectorStore
	stats.VectorStore
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VideoSource interface {
	ingest.VideoSource
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

const consumerChannel = "tubesearch"

type App struct {
	Handler         http.Handler
	VideoConsumer   *worker.VideoConsumer
	ChannelConsumer *worker.ChannelConsumer

	cfg         *config.Config
	queryLogger *retrieval.QueryLogger
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	if deps.DB == nil || deps.Store == nil || deps.Embedder == nil || deps.Videos == nil || deps.Publisher == nil {
		return nil, errors.New("app: missing dependency")
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	seg := segmentationDefaults(cfg)
	channelOpts := ingest.ChannelOptions{
		MaxNewVideos:   cfg.MaxNewVideos,
		MaxPagesToScan: cfg.MaxPagesToScan,
		Segmentation:   seg,
	}

	// Ingestion
	pipeline := ingest.NewPipeline(deps.Embedder, deps.Store)
	ingester := ingest.NewChannelIngester(pipeline, deps.Videos, deps.Store, ingest.WithVideoLocks(locker, cfg.LockTTL()))

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobService := job.NewService(jobRepo, deps.Publisher)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, deps.Store)

	// Feature: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(deps.Embedder, deps.Store, queryLogger)
	searchHandler := search.NewHandler(retrievalService)

	ingestionHandler := ingestion.NewHandler(ingester, locker, deps.Publisher, ingestion.Defaults{
		Segmentation: seg,
		Channel:      channelOpts,
		LockTTL:      cfg.LockTTL(),
	})
	mcpHandler := mcp.NewHandler(retrievalService, deps.Videos, deps.Publisher, channelOpts)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.HeaderCorrelationID)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /videos", middleware.CorrelationID(enableCORS(ingestionHandler.IngestVideo)))
	mux.Handle("POST /channels/{id}/ingest", middleware.CorrelationID(enableCORS(ingestionHandler.IngestChannel)))
	mux.Handle("GET /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))
	mux.Handle("DELETE /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Discard)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := deps.DB.PingContext(ctx); err != nil {
			slog.WarnContext(ctx, "health check: db unreachable", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "vector_backend": cfg.VectorBackend})
	})

	return &App{
		Handler:         mux,
		VideoConsumer:   worker.NewVideoConsumer(ingester, locker, jobRepo, seg, cfg.LockTTL()),
		ChannelConsumer: worker.NewChannelConsumer(ingester, locker, jobRepo, channelOpts, cfg.LockTTL()),
		cfg:             cfg,
		queryLogger:     queryLogger,
	}, nil
}

func segmentationDefaults(cfg *config.Config) ingest.Segmentation {
	return ingest.Segmentation{
		Mode:                ingest.Mode(cfg.SegmentationMode),
		SimilarityThreshold: cfg.SimilarityThreshold,
		MinChunkChars:       cfg.MinChunkChars,
		ChunkSize:           cfg.ChunkSize,
		EmbedRetries:        cfg.EmbedRetries,
	}
}

// Run starts the NSQ consumers and the HTTP server as configured and blocks
// until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.queryLogger.Close(); err != nil {
			slog.Warn("failed to close query logger", "error", err)
		}
	}()

	if a.cfg.EnableWorker {
		consumers, err := a.startConsumers()
		defer stopConsumers(consumers)
		if err != nil {
			return err
		}
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumers() ([]*nsq.Consumer, error) {
	handlers := map[string]nsq.Handler{
		config.TopicIngestVideo:   a.VideoConsumer,
		config.TopicIngestChannel: a.ChannelConsumer,
	}

	var consumers []*nsq.Consumer
	for _, topic := range config.Topics {
		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxInFlight = max(a.cfg.WorkerConcurrency, 1)
		// Handlers touch the message on every lease renewal, so the timeout
		// only needs to cover one renewal interval.
		nsqCfg.MsgTimeout = a.cfg.LockTTL()
		nsqCfg.MaxAttempts = uint16(worker.DefaultMaxAttempts)

		c, err := nsq.NewConsumer(topic, consumerChannel, nsqCfg)
		if err != nil {
			return consumers, fmt.Errorf("nsq consumer %s: %w", topic, err)
		}
		c.AddConcurrentHandlers(handlers[topic], nsqCfg.MaxInFlight)

		if a.cfg.NSQLookupd != "" {
			err = c.ConnectToNSQLookupd(a.cfg.NSQLookupd)
		} else {
			err = c.ConnectToNSQD(a.cfg.NSQDHost)
		}
		consumers = append(consumers, c)
		if err != nil {
			return consumers, fmt.Errorf("nsq connect %s: %w", topic, err)
		}
		slog.Info("nsq consumer connected", "topic", topic, "concurrency", nsqCfg.MaxInFlight)
	}
	return consumers, nil
}

func stopConsumers(consumers []*nsq.Consumer) {
	for _, c := range consumers {
		c.Stop()
		<-c.StopChan
	}
	if len(consumers) > 0 {
		slog.Info("nsq consumers stopped")
	}
}
