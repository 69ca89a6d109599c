package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"tubesearch/apps/backend/internal/middleware"
)

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountSources(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	jobRepo     JobRepo
	vectorStore VectorStore
}

func NewHandler(j JobRepo, v VectorStore) *Handler {
	return &Handler{jobRepo: j, vectorStore: v}
}

type StatsResponse struct {
	Videos         int     `json:"videos"`
	Chunks         int     `json:"chunks"`
	ChunksPerVideo float64 `json:"chunks_per_video"`
	FailedJobs     int     `json:"failed_jobs"`
}

type counter struct {
	name  string
	count func(context.Context) (int, error)
	dst   *int
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var resp StatsResponse
	counters := []counter{
		{"videos", h.vectorStore.CountSources, &resp.Videos},
		{"chunks", h.vectorStore.CountChunks, &resp.Chunks},
		{"jobs", h.jobRepo.Count, &resp.FailedJobs},
	}
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "stats count failed", "counter", c.name, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.name, http.StatusInternalServerError)
			return
		}
		*c.dst = n
	}
	if resp.Videos > 0 {
		resp.ChunksPerVideo = float64(resp.Chunks) / float64(resp.Videos)
	}

	slog.DebugContext(ctx, "stats computed", "videos", resp.Videos, "chunks", resp.Chunks, "failed_jobs", resp.FailedJobs)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error":         map[string]string{"code": code, "message": message},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
