package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tubesearch/apps/backend/internal/metrics"
	"tubesearch/apps/backend/internal/text"
	"tubesearch/apps/backend/internal/transcript"
)

const defaultRetryInterval = 500 * time.Millisecond

// Pipeline segments a transcript, embeds every unit that is not yet stored
// and inserts it. Unit failures are recorded in the report and never abort
// the run.
type Pipeline struct {
	embedder      Embedder
	store         Store
	segmenter     *text.Segmenter
	retryInterval time.Duration
}

type Option func(*Pipeline)

// WithRetryInterval sets the first backoff delay between embed retries.
func WithRetryInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.retryInterval = d }
}

func NewPipeline(e Embedder, s Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:      e,
		store:         s,
		segmenter:     text.NewSegmenter(e),
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Units cuts text into non-blank units without touching the store.
func (p *Pipeline) Units(ctx context.Context, sourceID, body string, seg Segmentation) ([]transcript.Unit, error) {
	seg = seg.withDefaults()

	var (
		units []transcript.Unit
		err   error
	)
	switch seg.Mode {
	case ModeSemantic:
		units, err = p.segmenter.Segment(ctx, sourceID, body, text.SemanticOptions{
			SimilarityThreshold: seg.SimilarityThreshold,
			MinChunkChars:       seg.MinChunkChars,
		})
	case ModeFixed:
		units, err = text.ChunkFixed(sourceID, body, seg.ChunkSize)
	default:
		return nil, fmt.Errorf("%w: unknown segmentation mode %q", transcript.ErrInvalidArgument, seg.Mode)
	}
	if err != nil {
		return nil, err
	}

	kept := units[:0]
	for _, u := range units {
		if !u.Blank() {
			kept = append(kept, u)
		}
	}
	return kept, nil
}

// IngestSource stores every unit of one transcript. Re-running it over a
// fully stored source stores nothing. In fixed mode it also makes no
// embedding calls; semantic mode still embeds every sentence, because unit
// boundaries come from clustering. Channel scans skip stored videos before
// this point.
func (p *Pipeline) IngestSource(ctx context.Context, sourceID, body string, seg Segmentation) (*Report, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	seg = seg.withDefaults()
	units, err := p.Units(ctx, sourceID, body, seg)
	if err != nil {
		return nil, err
	}

	report := newReport(sourceID)
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := p.ingestUnit(ctx, u, seg.EmbedRetries)
		metrics.UnitsTotal.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome == OutcomeFailed {
			slog.WarnContext(ctx, "unit ingestion failed", "source_id", sourceID, "chunk_index", u.Index, "reason", res.Reason)
		}
		report.add(res)
	}

	slog.InfoContext(ctx, "source ingested",
		"source_id", sourceID,
		"mode", seg.Mode,
		"total", report.Total,
		"stored", report.Stored,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report, nil
}

func (p *Pipeline) ingestUnit(ctx context.Context, u transcript.Unit, retries int) UnitResult {
	exists, err := p.store.Exists(ctx, u.SourceID, u.Index)
	if err != nil {
		return UnitResult{Index: u.Index, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	if exists {
		return UnitResult{Index: u.Index, Outcome: OutcomeSkipped}
	}

	vector := u.Vector
	if len(vector) == 0 {
		vector, err = p.embedWithRetry(ctx, u.Text, retries)
		if err != nil {
			return UnitResult{Index: u.Index, Outcome: OutcomeFailed, Reason: err.Error()}
		}
	}

	rec := transcript.Record{
		SourceID: u.SourceID,
		Index:    u.Index,
		Text:     u.Text,
		Vector:   vector,
		StoredAt: time.Now().UTC(),
	}
	if err := p.store.Insert(ctx, rec); err != nil {
		return UnitResult{Index: u.Index, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	return UnitResult{Index: u.Index, Outcome: OutcomeStored}
}

func (p *Pipeline) embedWithRetry(ctx context.Context, body string, retries int) ([]float32, error) {
	if retries < 0 {
		retries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	var vector []float32
	err := backoff.Retry(func() error {
		v, err := p.embedder.Embed(ctx, body)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}, policy)
	return vector, err
}
