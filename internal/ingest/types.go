package ingest

import (
	"context"

	"tubesearch/apps/backend/internal/text"
	"tubesearch/apps/backend/internal/transcript"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Store interface {
	Exists(ctx context.Context, sourceID string, index int) (bool, error)
	Insert(ctx context.Context, rec transcript.Record) error
}

// SourceIndex answers whether any chunk of a video is already stored.
type SourceIndex interface {
	HasSource(ctx context.Context, sourceID string) (bool, error)
}

type VideoSource interface {
	FetchTranscript(ctx context.Context, videoRef string) (string, error)
	ListChannelVideos(ctx context.Context, channelID, pageToken string) (*transcript.VideoPage, error)
}

type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeFixed    Mode = "fixed"
)

const DefaultChunkSize = 300

// Segmentation selects how a transcript is cut into units and how hard the
// pipeline tries to embed each one.
type Segmentation struct {
	Mode                Mode    `json:"mode"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	MinChunkChars       int     `json:"min_chunk_chars,omitempty"`
	ChunkSize           int     `json:"chunk_size,omitempty"`
	EmbedRetries        int     `json:"embed_retries,omitempty"`
}

func (s Segmentation) withDefaults() Segmentation {
	if s.Mode == "" {
		s.Mode = ModeSemantic
	}
	if s.SimilarityThreshold == 0 {
		s.SimilarityThreshold = text.DefaultSimilarityThreshold
	}
	if s.MinChunkChars == 0 {
		s.MinChunkChars = text.DefaultMinChunkChars
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	return s
}

// Override returns s with every non-zero field of o applied on top, so a
// request that names only the mode keeps the configured threshold.
func (s Segmentation) Override(o Segmentation) Segmentation {
	if o.Mode != "" {
		s.Mode = o.Mode
	}
	if o.SimilarityThreshold != 0 {
		s.SimilarityThreshold = o.SimilarityThreshold
	}
	if o.MinChunkChars != 0 {
		s.MinChunkChars = o.MinChunkChars
	}
	if o.ChunkSize != 0 {
		s.ChunkSize = o.ChunkSize
	}
	if o.EmbedRetries != 0 {
		s.EmbedRetries = o.EmbedRetries
	}
	return s
}
