package worker

import "tubesearch/apps/backend/internal/ingest"

// VideoTask asks for one video transcript to be ingested. A nil
// Segmentation uses the service defaults.
type VideoTask struct {
	VideoID       string               `json:"video_id"`
	Segmentation  *ingest.Segmentation `json:"segmentation,omitempty"`
	CorrelationID string               `json:"correlation_id"`
}

type ChannelTask struct {
	ChannelID     string                 `json:"channel_id"`
	Options       *ingest.ChannelOptions `json:"options,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}
