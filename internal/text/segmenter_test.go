package text

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubesearch/apps/backend/internal/transcript"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    map[string]bool
	calls   []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return nil, errors.New("upstream unavailable")
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Hello there! How are you?? I am ok, ok. Hi.  ...  ")
	// "ok" and "Hi" are under three characters and dropped.
	assert.Equal(t, []string{"Hello there", "How are you", "I am ok"}, got)
}

func TestSegmenter_CatAndDog(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"A cat sat":   {1, 0},
		"A dog ran":   {0, 1},
		"A cat slept": {0.99, 0.1},
	}}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "A cat sat. A dog ran. A cat slept.", SemanticOptions{
		SimilarityThreshold: 0.9,
		MinChunkChars:       1,
	})
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "A cat sat A cat slept", units[0].Text)
	assert.Equal(t, 0, units[0].Index)
	assert.Equal(t, []float32{1, 0}, units[0].Vector, "cluster keeps the seed embedding")

	assert.Equal(t, "A dog ran", units[1].Text)
	assert.Equal(t, 1, units[1].Index)
	assert.Equal(t, "v1", units[1].SourceID)

	assert.Len(t, e.calls, 3, "one embedding call per sentence, none for merged text")
}

func TestSegmenter_NotTransitive(t *testing.T) {
	// s1 is close to both s0 and s2, but s2 is far from the seed s0.
	e := &fakeEmbedder{vectors: map[string][]float32{
		"first sentence":  {1, 0},
		"second sentence": {0.8, 0.6},
		"third sentence":  {0.28, 0.96},
	}}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "first sentence. second sentence. third sentence.", SemanticOptions{
		SimilarityThreshold: 0.75,
		MinChunkChars:       1,
	})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "first sentence second sentence", units[0].Text)
	assert.Equal(t, "third sentence", units[1].Text)
}

func TestSegmenter_ClusterKeepsOriginalOrder(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"alpha one":   {1, 0},
		"beta two":    {0, 1},
		"alpha three": {1, 0.01},
		"beta four":   {0.01, 1},
	}}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "alpha one. beta two. alpha three. beta four.", SemanticOptions{
		SimilarityThreshold: 0.9,
		MinChunkChars:       1,
	})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "alpha one alpha three", units[0].Text)
	assert.Equal(t, "beta two beta four", units[1].Text)
}

func TestSegmenter_DiscardsShortClusters(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"a rather long opening sentence": {1, 0},
		"tiny":                           {0, 1},
	}}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "a rather long opening sentence. tiny.", SemanticOptions{
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "a rather long opening sentence", units[0].Text)
	assert.Equal(t, 0, units[0].Index)
}

func TestSegmenter_IndicesRankSurvivingClusters(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"short":                        {0, 1},
		"this sentence is long enough": {1, 0},
	}}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "short. this sentence is long enough.", SemanticOptions{
		SimilarityThreshold: 0.9,
		MinChunkChars:       10,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, 0, units[0].Index)
}

func TestSegmenter_DropsFailedEmbeddings(t *testing.T) {
	e := &fakeEmbedder{
		vectors: map[string][]float32{
			"one sentence":   {1, 0},
			"two sentence":   {0, 1},
			"three sentence": {1, 0},
		},
		fail: map[string]bool{"two sentence": true},
	}
	s := NewSegmenter(e)

	units, err := s.Segment(context.Background(), "v1", "one sentence. two sentence. three sentence.", SemanticOptions{
		SimilarityThreshold: 0.9,
		MinChunkChars:       1,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "one sentence three sentence", units[0].Text)
}

func TestSegmenter_Errors(t *testing.T) {
	t.Run("Too Few Sentences", func(t *testing.T) {
		s := NewSegmenter(&fakeEmbedder{})
		_, err := s.Segment(context.Background(), "v1", "Only one sentence here.", SemanticOptions{SimilarityThreshold: 0.5})
		assert.ErrorIs(t, err, transcript.ErrInsufficientInput)
	})

	t.Run("Too Few Embeddings", func(t *testing.T) {
		e := &fakeEmbedder{
			vectors: map[string][]float32{"first one": {1}},
			fail:    map[string]bool{"second one": true},
		}
		s := NewSegmenter(e)
		_, err := s.Segment(context.Background(), "v1", "first one. second one.", SemanticOptions{SimilarityThreshold: 0.5})
		assert.ErrorIs(t, err, transcript.ErrInsufficientInput)
	})

	t.Run("Threshold Out Of Range", func(t *testing.T) {
		s := NewSegmenter(&fakeEmbedder{})
		for _, th := range []float64{0, 1, -0.2, 1.5} {
			_, err := s.Segment(context.Background(), "v1", "first one. second one.", SemanticOptions{SimilarityThreshold: th})
			assert.ErrorIs(t, err, transcript.ErrInvalidArgument, "threshold %v", th)
		}
	})
}

func TestSegmenter_NoLossNoDuplication(t *testing.T) {
	var sentences []string
	vectors := map[string][]float32{}
	for i := 0; i < 24; i++ {
		s := fmt.Sprintf("sentence number %02d", i)
		sentences = append(sentences, s)
		angle := float64(i%5) * 0.4
		vectors[s] = []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
	}
	text := strings.Join(sentences, ". ") + "."

	for _, threshold := range []float64{0.1, 0.5, 0.9, 0.99} {
		s := NewSegmenter(&fakeEmbedder{vectors: vectors})
		units, err := s.Segment(context.Background(), "v1", text, SemanticOptions{
			SimilarityThreshold: threshold,
			MinChunkChars:       1,
		})
		require.NoError(t, err)
		require.NotEmpty(t, units)

		var all []string
		for i, u := range units {
			assert.Equal(t, i, u.Index)
			all = append(all, u.Text)
		}
		joined := strings.Join(all, " | ")
		for _, sentence := range sentences {
			assert.Equal(t, 1, strings.Count(joined, sentence), "threshold %v sentence %q", threshold, sentence)
		}
	}
}
