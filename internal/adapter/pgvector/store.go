package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"tubesearch/apps/backend/internal/transcript"
)

const uniqueViolation = "23505"

// Store keeps transcript chunk embeddings in Postgres with the pgvector
// extension. Similarity ranking runs server-side in match_transcript_chunks.
type Store struct {
	db         *sql.DB
	dimensions int
}

// NewStore returns a store over db. When dimensions is positive, inserts with
// any other vector length are rejected.
func NewStore(db *sql.DB, dimensions int) *Store {
	return &Store{db: db, dimensions: dimensions}
}

func (s *Store) Exists(ctx context.Context, sourceID string, index int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM transcript_chunks WHERE source_id = $1 AND chunk_index = $2)`
	if err := s.db.QueryRowContext(ctx, query, sourceID, index).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: exists check: %v", transcript.ErrStorage, err)
	}
	return exists, nil
}

func (s *Store) HasSource(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM transcript_chunks WHERE source_id = $1)`
	if err := s.db.QueryRowContext(ctx, query, sourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: source check: %v", transcript.ErrStorage, err)
	}
	return exists, nil
}

func (s *Store) Insert(ctx context.Context, rec transcript.Record) error {
	if s.dimensions > 0 && len(rec.Vector) != s.dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, store expects %d", transcript.ErrStorage, len(rec.Vector), s.dimensions)
	}
	storedAt := rec.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	query := `INSERT INTO transcript_chunks (source_id, chunk_index, chunk_text, embedding, stored_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query, rec.SourceID, rec.Index, rec.Text, pgv.NewVector(rec.Vector), storedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: chunk %s/%d already stored", transcript.ErrStorage, rec.SourceID, rec.Index)
		}
		return fmt.Errorf("%w: insert: %v", transcript.ErrStorage, err)
	}
	return nil
}

func (s *Store) NearestNeighbor(ctx context.Context, vector []float32, k int) ([]transcript.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", transcript.ErrInvalidArgument, k)
	}

	query := `SELECT source_id, chunk_index, chunk_text, score FROM match_transcript_chunks($1, $2)`
	rows, err := s.db.QueryContext(ctx, query, pgv.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: match query: %v", transcript.ErrStorage, err)
	}
	defer rows.Close()

	matches := []transcript.Match{}
	for rows.Next() {
		var m transcript.Match
		if err := rows.Scan(&m.SourceID, &m.Index, &m.Text, &m.Score); err != nil {
			return nil, fmt.Errorf("%w: scan match: %v", transcript.ErrStorage, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", transcript.ErrStorage, err)
	}
	return matches, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_chunks`).Scan(&count)
	return count, err
}

func (s *Store) CountSources(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT source_id) FROM transcript_chunks`).Scan(&count)
	return count, err
}
