package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tubesearch/apps/backend/internal/text"
	"tubesearch/apps/backend/internal/transcript"
)

type key struct {
	sourceID string
	index    int
}

// Store is a brute-force in-process vector store. It backs local runs and
// tests; nothing is persisted.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   []transcript.Record
	byKey     map[key]int
}

func NewStore() *Store {
	return &Store{byKey: make(map[key]int)}
}

func (s *Store) Exists(ctx context.Context, sourceID string, index int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[key{sourceID, index}]
	return ok, nil
}

func (s *Store) HasSource(ctx context.Context, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.byKey {
		if k.sourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

// Insert fixes the store dimension on the first record.
func (s *Store) Insert(ctx context.Context, rec transcript.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.SourceID, rec.Index}
	if _, ok := s.byKey[k]; ok {
		return fmt.Errorf("%w: chunk %s/%d already stored", transcript.ErrStorage, rec.SourceID, rec.Index)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", transcript.ErrStorage)
	}
	if s.dimension == 0 {
		s.dimension = len(rec.Vector)
	} else if len(rec.Vector) != s.dimension {
		return fmt.Errorf("%w: vector has %d dimensions, store expects %d", transcript.ErrStorage, len(rec.Vector), s.dimension)
	}

	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	s.byKey[k] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) NearestNeighbor(ctx context.Context, vector []float32, k int) ([]transcript.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", transcript.ErrInvalidArgument, k)
	}

	s.mu.RLock()
	matches := make([]transcript.Match, 0, len(s.records))
	for _, r := range s.records {
		matches = append(matches, transcript.Match{
			SourceID: r.SourceID,
			Index:    r.Index,
			Text:     r.Text,
			Score:    text.CosineSimilarity(r.Vector, vector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) CountSources(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range s.byKey {
		seen[k.sourceID] = struct{}{}
	}
	return len(seen), nil
}
