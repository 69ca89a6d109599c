package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tubesearch/apps/backend/internal/adapter/youtube"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/ingest"
	"tubesearch/apps/backend/internal/lock"
	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/transcript"
	"tubesearch/apps/backend/internal/worker"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Defaults fill in every segmentation or channel option a request leaves
// unset.
type Defaults struct {
	Segmentation ingest.Segmentation
	Channel      ingest.ChannelOptions
	LockTTL      time.Duration
}

type Handler struct {
	ingester worker.VideoIngester
	locker   lock.Locker
	pub      Publisher
	defaults Defaults
}

// NewHandler wires the ingestion routes. A nil locker disables the per-video
// lock on synchronous ingestion.
func NewHandler(i worker.VideoIngester, l lock.Locker, p Publisher, d Defaults) *Handler {
	return &Handler{ingester: i, locker: l, pub: p, defaults: d}
}

type VideoRequest struct {
	Video        string               `json:"video"`
	Segmentation *ingest.Segmentation `json:"segmentation,omitempty"`
	Async        bool                 `json:"async,omitempty"`
}

type ChannelRequest struct {
	Options *ingest.ChannelOptions `json:"options,omitempty"`
}

type queuedResponse struct {
	Status    string `json:"status"`
	Topic     string `json:"topic"`
	VideoID   string `json:"video_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// IngestVideo handles POST /videos. The video is ingested inline and the
// report returned, unless async is set, in which case a task is queued.
func (h *Handler) IngestVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	videoID, err := youtube.ParseVideoID(req.Video)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	seg := h.defaults.Segmentation
	if req.Segmentation != nil {
		seg = seg.Override(*req.Segmentation)
	}

	if req.Async {
		task := worker.VideoTask{VideoID: videoID, Segmentation: &seg, CorrelationID: correlationID}
		if err := h.publish(ctx, config.TopicIngestVideo, task); err != nil {
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue video", http.StatusInternalServerError)
			return
		}
		h.writeJSON(ctx, w, http.StatusAccepted, queuedResponse{Status: "queued", Topic: config.TopicIngestVideo, VideoID: videoID})
		return
	}

	slog.InfoContext(ctx, "ingesting video", "video_id", videoID, "mode", seg.Mode, "correlationId", correlationID)

	var report *ingest.Report
	run := func(ctx context.Context) error {
		report, err = h.ingester.IngestVideo(ctx, videoID, seg)
		return err
	}

	if h.locker == nil {
		err = run(ctx)
	} else {
		lease, ok, lockErr := h.locker.TryLock(ctx, lock.VideoKey(videoID), h.defaults.LockTTL)
		if lockErr != nil {
			slog.ErrorContext(ctx, "failed to take video lock", "video_id", videoID, "error", lockErr)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to lock video", http.StatusInternalServerError)
			return
		}
		if !ok {
			h.writeError(ctx, w, "CONFLICT", "video is already being ingested", http.StatusConflict)
			return
		}
		err = lock.Hold(ctx, lease, h.defaults.LockTTL, nil, run)
	}
	if err != nil {
		code, status := errorStatus(err)
		slog.ErrorContext(ctx, "video ingestion failed", "video_id", videoID, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, report)
}

// IngestChannel handles POST /channels/{id}/ingest by queueing a channel task.
func (h *Handler) IngestChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channelID := strings.TrimSpace(r.PathValue("id"))
	if channelID == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "channel id is required", http.StatusBadRequest)
		return
	}

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	opts := h.defaults.Channel
	if req.Options != nil {
		opts = opts.Override(*req.Options)
	}

	task := worker.ChannelTask{ChannelID: channelID, Options: &opts, CorrelationID: middleware.GetCorrelationID(ctx)}
	if err := h.publish(ctx, config.TopicIngestChannel, task); err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue channel", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "channel ingestion queued", "channel_id", channelID, "max_new_videos", opts.MaxNewVideos)
	h.writeJSON(ctx, w, http.StatusAccepted, queuedResponse{Status: "queued", Topic: config.TopicIngestChannel, ChannelID: channelID})
}

func (h *Handler) publish(ctx context.Context, topic string, task interface{}) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := h.pub.Publish(topic, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish task", "topic", topic, "error", err)
		return err
	}
	return nil
}

func errorStatus(err error) (string, int) {
	switch {
	case errors.Is(err, transcript.ErrInvalidArgument):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, transcript.ErrInsufficientInput):
		return "INSUFFICIENT_INPUT", http.StatusUnprocessableEntity
	case errors.Is(err, transcript.ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, transcript.ErrEmbeddingService):
		return "UPSTREAM_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
