package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tubesearch/apps/backend/features/job"
	"tubesearch/apps/backend/internal/ingest"
)

type MockVideoIngester struct{ mock.Mock }

func (m *MockVideoIngester) IngestVideo(ctx context.Context, videoID string, seg ingest.Segmentation) (*ingest.Report, error) {
	args := m.Called(ctx, videoID, seg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Report), args.Error(1)
}

type MockChannelIngester struct{ mock.Mock }

func (m *MockChannelIngester) IngestChannel(ctx context.Context, channelID string, opts ingest.ChannelOptions) (*ingest.ChannelReport, error) {
	args := m.Called(ctx, channelID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.ChannelReport), args.Error(1)
}

type MockJobSaver struct{ mock.Mock }

func (m *MockJobSaver) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
