package text

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"tubesearch/apps/backend/internal/transcript"
)

const (
	DefaultSimilarityThreshold = 0.7
	DefaultMinChunkChars       = 20

	minSentenceChars = 3
)

var sentenceBoundary = regexp.MustCompile(`[.!?,]+`)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SemanticOptions struct {
	SimilarityThreshold float64
	MinChunkChars       int
}

func (o SemanticOptions) withDefaults() SemanticOptions {
	if o.MinChunkChars <= 0 {
		o.MinChunkChars = DefaultMinChunkChars
	}
	return o
}

// Segmenter groups transcript sentences into semantically coherent units
// using pairwise embedding similarity.
type Segmenter struct {
	embedder Embedder
}

func NewSegmenter(e Embedder) *Segmenter {
	return &Segmenter{embedder: e}
}

// SplitSentences splits on runs of sentence-terminal punctuation and commas,
// trimming each fragment and dropping those shorter than three characters.
func SplitSentences(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < minSentenceChars {
			continue
		}
		sentences = append(sentences, p)
	}
	return sentences
}

// Segment returns the semantic units of text in formation order.
//
// Clustering is a greedy single pass: the first unclaimed sentence seeds a
// cluster and claims every later unclaimed sentence whose similarity to the
// seed reaches the threshold. Membership is decided against the seed only.
// Each unit carries the seed sentence's embedding rather than one computed
// from the merged text.
func (s *Segmenter) Segment(ctx context.Context, sourceID, text string, opts SemanticOptions) ([]transcript.Unit, error) {
	opts = opts.withDefaults()
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold >= 1 {
		return nil, fmt.Errorf("%w: similarity threshold must be in (0,1), got %v", transcript.ErrInvalidArgument, opts.SimilarityThreshold)
	}

	sentences := SplitSentences(text)
	if len(sentences) < 2 {
		return nil, fmt.Errorf("%w: %d usable sentences", transcript.ErrInsufficientInput, len(sentences))
	}

	valid := make([]string, 0, len(sentences))
	vectors := make([][]float32, 0, len(sentences))
	for i, sentence := range sentences {
		vec, err := s.embedder.Embed(ctx, sentence)
		if err != nil {
			slog.WarnContext(ctx, "dropping sentence after embedding failure", "source_id", sourceID, "sentence", i, "error", err)
			continue
		}
		valid = append(valid, sentence)
		vectors = append(vectors, vec)
	}
	if len(vectors) < 2 {
		return nil, fmt.Errorf("%w: %d sentences embedded", transcript.ErrInsufficientInput, len(vectors))
	}

	sim := SimilarityMatrix(vectors)
	claimed := make([]bool, len(valid))
	var units []transcript.Unit

	for i := range valid {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		members := []string{valid[i]}

		for j := i + 1; j < len(valid); j++ {
			if claimed[j] {
				continue
			}
			if sim[i][j] >= opts.SimilarityThreshold {
				claimed[j] = true
				members = append(members, valid[j])
			}
		}

		chunk := strings.TrimSpace(strings.Join(members, " "))
		if utf8.RuneCountInString(chunk) < opts.MinChunkChars {
			slog.DebugContext(ctx, "discarding short cluster", "source_id", sourceID, "length", utf8.RuneCountInString(chunk))
			continue
		}

		units = append(units, transcript.Unit{
			SourceID: sourceID,
			Text:     chunk,
			Index:    len(units),
			Vector:   vectors[i],
		})
	}

	slog.InfoContext(ctx, "transcript segmented",
		"source_id", sourceID,
		"sentences", len(sentences),
		"embedded", len(valid),
		"units", len(units))
	return units, nil
}
