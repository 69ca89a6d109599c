package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"tubesearch/apps/backend/features/job"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/ingest"
	"tubesearch/apps/backend/internal/lock"
	"tubesearch/apps/backend/internal/middleware"
	"tubesearch/apps/backend/internal/transcript"
)

var ErrSourceBusy = lock.ErrBusy

const DefaultMaxAttempts = 5

// terminal errors will not change on redelivery.
func terminal(err error) bool {
	return errors.Is(err, transcript.ErrInsufficientInput) ||
		errors.Is(err, transcript.ErrInvalidArgument) ||
		errors.Is(err, transcript.ErrNotFound)
}

type consumerBase struct {
	locker      lock.Locker
	jobs        FailedJobSaver
	lockTTL     time.Duration
	maxAttempts uint16
}

func (b *consumerBase) taskContext(correlationID string) context.Context {
	if correlationID == "" {
		correlationID = middleware.NewCorrelationID()
	}
	return middleware.WithCorrelationID(context.Background(), correlationID)
}

// withLock runs fn while holding key. A held key yields ErrSourceBusy so NSQ
// redelivers later. Each lease renewal also touches m so nsqd does not
// redeliver a long run mid-flight.
func (b *consumerBase) withLock(ctx context.Context, m *nsq.Message, key string, fn func(context.Context) error) error {
	lease, ok, err := b.locker.TryLock(ctx, key, b.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		slog.InfoContext(ctx, "ingestion already in progress, requeueing", "key", key)
		return ErrSourceBusy
	}
	touch := func() {
		if m.Delegate != nil {
			m.Touch()
		}
	}
	return lock.Hold(ctx, lease, b.lockTTL, touch, fn)
}

func (b *consumerBase) saveFailed(ctx context.Context, sourceID, topic string, payload []byte, reason string) {
	if b.jobs == nil {
		return
	}
	j := &job.Job{
		SourceID: sourceID,
		Handler:  topic,
		Payload:  json.RawMessage(payload),
		Error:    reason,
	}
	if err := b.jobs.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "source_id", sourceID, "error", err)
		return
	}
	slog.WarnContext(ctx, "failed job recorded", "job_id", j.ID, "source_id", sourceID, "topic", topic)
}

// giveUp decides whether a retryable error is recorded instead of redelivered.
func (b *consumerBase) giveUp(m *nsq.Message, err error) bool {
	return terminal(err) || (b.maxAttempts > 0 && m.Attempts >= b.maxAttempts)
}

type VideoConsumer struct {
	consumerBase
	ingester VideoIngester
	defaults ingest.Segmentation
}

func NewVideoConsumer(i VideoIngester, l lock.Locker, j FailedJobSaver, defaults ingest.Segmentation, lockTTL time.Duration) *VideoConsumer {
	return &VideoConsumer{
		consumerBase: consumerBase{locker: l, jobs: j, lockTTL: lockTTL, maxAttempts: DefaultMaxAttempts},
		ingester:     i,
		defaults:     defaults,
	}
}

func (h *VideoConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task VideoTask
	if err := json.Unmarshal(m.Body, &task); err != nil || task.VideoID == "" {
		// Poison pill: never retry
		slog.Error("poison pill: invalid video task", "error", err, "body", string(m.Body))
		return nil
	}

	ctx := h.taskContext(task.CorrelationID)
	seg := h.defaults
	if task.Segmentation != nil {
		seg = seg.Override(*task.Segmentation)
	}

	return h.withLock(ctx, m, lock.VideoKey(task.VideoID), func(ctx context.Context) error {
		report, err := h.ingester.IngestVideo(ctx, task.VideoID, seg)
		if err != nil {
			slog.ErrorContext(ctx, "video ingestion failed", "video_id", task.VideoID, "attempt", m.Attempts, "error", err)
			if h.giveUp(m, err) {
				h.saveFailed(ctx, task.VideoID, config.TopicIngestVideo, m.Body, err.Error())
				return nil
			}
			return err
		}
		if !report.Complete() {
			h.saveFailed(ctx, task.VideoID, config.TopicIngestVideo, m.Body, summarize(report))
		}
		return nil
	})
}

type ChannelConsumer struct {
	consumerBase
	ingester ChannelIngester
	defaults ingest.ChannelOptions
}

func NewChannelConsumer(i ChannelIngester, l lock.Locker, j FailedJobSaver, defaults ingest.ChannelOptions, lockTTL time.Duration) *ChannelConsumer {
	return &ChannelConsumer{
		consumerBase: consumerBase{locker: l, jobs: j, lockTTL: lockTTL, maxAttempts: DefaultMaxAttempts},
		ingester:     i,
		defaults:     defaults,
	}
}

func (h *ChannelConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ChannelTask
	if err := json.Unmarshal(m.Body, &task); err != nil || task.ChannelID == "" {
		slog.Error("poison pill: invalid channel task", "error", err, "body", string(m.Body))
		return nil
	}

	ctx := h.taskContext(task.CorrelationID)
	opts := h.defaults
	if task.Options != nil {
		opts = opts.Override(*task.Options)
	}

	return h.withLock(ctx, m, lock.ChannelKey(task.ChannelID), func(ctx context.Context) error {
		report, err := h.ingester.IngestChannel(ctx, task.ChannelID, opts)
		if err != nil {
			slog.ErrorContext(ctx, "channel ingestion failed", "channel_id", task.ChannelID, "attempt", m.Attempts, "error", err)
			if h.giveUp(m, err) {
				h.saveFailed(ctx, task.ChannelID, config.TopicIngestChannel, m.Body, err.Error())
				return nil
			}
			return err
		}

		// Partially stored videos become video jobs so a retry resumes them.
		for _, v := range report.Videos {
			if v.Complete() {
				continue
			}
			seg := opts.Segmentation
			payload, err := json.Marshal(VideoTask{
				VideoID:       v.SourceID,
				Segmentation:  &seg,
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
			if err != nil {
				continue
			}
			h.saveFailed(ctx, v.SourceID, config.TopicIngestVideo, payload, summarize(v))
		}
		return nil
	})
}

func summarize(r *ingest.Report) string {
	msg := fmt.Sprintf("%d of %d units failed", len(r.Failed), r.Total)
	if len(r.Failed) > 0 {
		msg += fmt.Sprintf("; first: chunk %d: %s", r.Failed[0].Index, r.Failed[0].Reason)
	}
	return msg
}
