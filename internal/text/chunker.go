package text

import (
	"fmt"

	"tubesearch/apps/backend/internal/transcript"
)

// ChunkFixed splits text into consecutive windows of exactly chunkSize
// characters; the last window may be shorter. Characters are runes, so
// multi-byte transcripts are never cut mid-character.
func ChunkFixed(sourceID, text string, chunkSize int) ([]transcript.Unit, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", transcript.ErrInvalidArgument, chunkSize)
	}

	runes := []rune(text)
	units := make([]transcript.Unit, 0, (len(runes)+chunkSize-1)/chunkSize)
	for start, idx := 0, 0; start < len(runes); start, idx = start+chunkSize, idx+1 {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		units = append(units, transcript.Unit{
			SourceID: sourceID,
			Text:     string(runes[start:end]),
			Index:    idx,
		})
	}
	return units, nil
}
