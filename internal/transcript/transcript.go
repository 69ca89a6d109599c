package transcript

import (
	"strings"
	"time"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// Unit is one retrieval unit cut from a transcript. Vector is only set when
// the segmenter already holds an embedding for the unit (the seed sentence).
type Unit struct {
	SourceID string
	Text     string
	Index    int
	Vector   []float32
}

// Blank reports whether the unit has no usable text.
func (u Unit) Blank() bool {
	return strings.TrimSpace(u.Text) == ""
}

type Record struct {
	SourceID string
	Index    int
	Text     string
	Vector   []float32
	StoredAt time.Time
}

type Match struct {
	SourceID string  `json:"video_id"`
	URL      string  `json:"url"`
	Index    int     `json:"chunk_index"`
	Text     string  `json:"chunk_text"`
	Score    float64 `json:"score"`
}

func WatchURL(sourceID string) string {
	return watchURLPrefix + sourceID
}

// VideoPage is one page of a channel's uploads, newest first. An empty
// NextPageToken ends pagination.
type VideoPage struct {
	VideoIDs      []string
	NextPageToken string
}
