package transcript

import "errors"

var (
	// ErrInsufficientInput means there were too few usable sentences to segment.
	ErrInsufficientInput = errors.New("insufficient input")
	// ErrInvalidArgument covers bad chunk sizes, thresholds and malformed references.
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrStorage          = errors.New("storage error")
	// ErrNotFound is returned when no similar record, video or channel exists.
	ErrNotFound = errors.New("not found")
)
