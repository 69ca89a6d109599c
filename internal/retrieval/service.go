package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tubesearch/apps/backend/internal/metrics"
	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/transcript"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	NearestNeighbor(ctx context.Context, vector []float32, k int) ([]transcript.Match, error)
}

// Service answers a free-text query with the single most similar stored
// transcript chunk.
type Service struct {
	embedder Embedder
	store    VectorStore
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorStore, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, logger: l}
}

func (s *Service) Search(ctx context.Context, query string) (*transcript.Match, error) {
	start := time.Now()
	query = strings.TrimSpace(query)

	match, err := s.search(ctx, query)
	outcome := OutcomeHit
	switch {
	case err == nil:
	case errors.Is(err, transcript.ErrNotFound):
		outcome = OutcomeMiss
	default:
		outcome = OutcomeError
	}
	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	s.log(ctx, query, outcome, match, time.Since(start))
	return match, err
}

func (s *Service) search(ctx context.Context, query string) (*transcript.Match, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", transcript.ErrInvalidArgument)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.NearestNeighbor(ctx, vector, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no similar video", transcript.ErrNotFound)
	}

	best := matches[0]
	best.URL = transcript.WatchURL(best.SourceID)
	return &best, nil
}

func (s *Service) log(ctx context.Context, query, outcome string, m *transcript.Match, d time.Duration) {
	if s.logger == nil || query == "" {
		return
	}
	entry := QueryLogEntry{
		Query:         query,
		Outcome:       outcome,
		Duration:      d,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if m != nil {
		entry.NumResults = 1
		entry.VideoID = m.SourceID
		entry.ChunkIndex = m.Index
		entry.Score = m.Score
	}
	s.logger.Log(entry)
}
