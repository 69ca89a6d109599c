package config

const (
	// TopicIngestVideo carries single-video ingestion tasks.
	TopicIngestVideo = "ingest.video"

	// TopicIngestChannel carries channel scan tasks.
	TopicIngestChannel = "ingest.channel"
)

// Topics lists every topic the service publishes to.
var Topics = []string{TopicIngestVideo, TopicIngestChannel}
