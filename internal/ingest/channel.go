package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tubesearch/apps/backend/internal/lock"
)

const (
	DefaultMaxNewVideos   = 3
	DefaultMaxPagesToScan = 10
)

type ChannelOptions struct {
	MaxNewVideos   int          `json:"max_new_videos,omitempty"`
	MaxPagesToScan int          `json:"max_pages_to_scan,omitempty"`
	Segmentation   Segmentation `json:"segmentation"`
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.MaxNewVideos <= 0 {
		o.MaxNewVideos = DefaultMaxNewVideos
	}
	if o.MaxPagesToScan <= 0 {
		o.MaxPagesToScan = DefaultMaxPagesToScan
	}
	return o
}

// Override returns o with every non-zero field of x applied on top,
// segmentation included.
func (o ChannelOptions) Override(x ChannelOptions) ChannelOptions {
	if x.MaxNewVideos != 0 {
		o.MaxNewVideos = x.MaxNewVideos
	}
	if x.MaxPagesToScan != 0 {
		o.MaxPagesToScan = x.MaxPagesToScan
	}
	o.Segmentation = o.Segmentation.Override(x.Segmentation)
	return o
}

type SkippedVideo struct {
	VideoID string `json:"video_id"`
	Reason  string `json:"reason"`
}

type ChannelReport struct {
	ChannelID     string         `json:"channel_id"`
	PagesScanned  int            `json:"pages_scanned"`
	Videos        []*Report      `json:"videos"`
	SkippedVideos []SkippedVideo `json:"skipped_videos"`
}

// ChannelIngester walks a channel's uploads newest first and ingests videos
// that have nothing stored yet.
type ChannelIngester struct {
	pipeline *Pipeline
	source   VideoSource
	index    SourceIndex
	locker   lock.Locker
	lockTTL  time.Duration
}

type ChannelOption func(*ChannelIngester)

// WithVideoLocks makes channel runs take the per-video lock that single
// video ingestion takes. A video locked elsewhere is skipped.
func WithVideoLocks(l lock.Locker, ttl time.Duration) ChannelOption {
	return func(c *ChannelIngester) {
		c.locker = l
		c.lockTTL = ttl
	}
}

func NewChannelIngester(p *Pipeline, src VideoSource, idx SourceIndex, opts ...ChannelOption) *ChannelIngester {
	c := &ChannelIngester{pipeline: p, source: src, index: idx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestVideo fetches one transcript and runs it through the pipeline. The
// caller holds the video lock.
func (c *ChannelIngester) IngestVideo(ctx context.Context, videoID string, seg Segmentation) (*Report, error) {
	body, err := c.source.FetchTranscript(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return c.pipeline.IngestSource(ctx, videoID, body, seg)
}

func (c *ChannelIngester) IngestChannel(ctx context.Context, channelID string, opts ChannelOptions) (*ChannelReport, error) {
	opts = opts.withDefaults()
	report := &ChannelReport{
		ChannelID:     channelID,
		Videos:        []*Report{},
		SkippedVideos: []SkippedVideo{},
	}
	seen := make(map[string]bool)
	pageToken := ""

	for report.PagesScanned < opts.MaxPagesToScan && len(report.Videos) < opts.MaxNewVideos {
		page, err := c.source.ListChannelVideos(ctx, channelID, pageToken)
		if err != nil {
			if report.PagesScanned == 0 {
				return nil, fmt.Errorf("failed to list channel %s: %w", channelID, err)
			}
			slog.WarnContext(ctx, "channel listing stopped early", "channel_id", channelID, "page", report.PagesScanned+1, "error", err)
			break
		}
		report.PagesScanned++

		for _, id := range page.VideoIDs {
			if len(report.Videos) >= opts.MaxNewVideos {
				break
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if c.stored(ctx, id) {
				continue
			}

			videoReport, err := c.ingestLocked(ctx, id, opts.Segmentation)
			if err != nil {
				slog.WarnContext(ctx, "video skipped", "channel_id", channelID, "video_id", id, "error", err)
				report.SkippedVideos = append(report.SkippedVideos, SkippedVideo{VideoID: id, Reason: err.Error()})
				continue
			}
			report.Videos = append(report.Videos, videoReport)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	slog.InfoContext(ctx, "channel ingested",
		"channel_id", channelID,
		"pages", report.PagesScanned,
		"ingested", len(report.Videos),
		"skipped", len(report.SkippedVideos),
	)
	return report, nil
}

func (c *ChannelIngester) ingestLocked(ctx context.Context, videoID string, seg Segmentation) (*Report, error) {
	if c.locker == nil {
		return c.IngestVideo(ctx, videoID, seg)
	}

	lease, ok, err := c.locker.TryLock(ctx, lock.VideoKey(videoID), c.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lock.ErrBusy
	}

	var report *Report
	err = lock.Hold(ctx, lease, c.lockTTL, nil, func(ctx context.Context) error {
		var err error
		report, err = c.IngestVideo(ctx, videoID, seg)
		return err
	})
	if err != nil && errors.Is(err, lock.ErrLeaseLost) {
		slog.WarnContext(ctx, "video lock lost mid-run", "video_id", videoID)
	}
	return report, err
}

// stored treats lookup errors as "not stored"; per-unit existence checks in
// the pipeline still prevent duplicates.
func (c *ChannelIngester) stored(ctx context.Context, videoID string) bool {
	ok, err := c.index.HasSource(ctx, videoID)
	if err != nil {
		slog.WarnContext(ctx, "source lookup failed, treating video as new", "video_id", videoID, "error", err)
		return false
	}
	return ok
}
