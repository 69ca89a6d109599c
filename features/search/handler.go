package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/transcript"
)

type Searcher interface {
	Search(ctx context.Context, query string) (*transcript.Match, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

// Search answers GET /search?q= with the closest stored transcript chunk.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	query := r.URL.Query().Get("q")

	slog.InfoContext(ctx, "search requested", "query", query, "correlationId", correlationID)

	match, err := h.searcher.Search(ctx, query)
	if err != nil {
		code, status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", correlationID)
		}
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": match}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func errorStatus(err error) (string, int) {
	switch {
	case errors.Is(err, transcript.ErrInvalidArgument):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, transcript.ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, transcript.ErrEmbeddingService):
		return "UPSTREAM_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
