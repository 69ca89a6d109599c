package worker

import (
	"context"

	"tubesearch/apps/backend/features/job"
	"tubesearch/apps/backend/internal/ingest"
)

type VideoIngester interface {
	IngestVideo(ctx context.Context, videoID string, seg ingest.Segmentation) (*ingest.Report, error)
}

type ChannelIngester interface {
	IngestChannel(ctx context.Context, channelID string, opts ingest.ChannelOptions) (*ingest.ChannelReport, error)
}

type FailedJobSaver interface {
	Save(ctx context.Context, j *job.Job) error
}
