package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubesearch_units_total",
			Help: "Transcript units processed by ingestion, by outcome",
		},
		[]string{"outcome"},
	)
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tubesearch_ingest_duration_seconds",
			Help:    "Duration of single-source ingestion runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
		},
	)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubesearch_queries_total",
			Help: "Similarity queries by result (hit, miss, error)",
		},
		[]string{"result"},
	)
	EmbedCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubesearch_embed_calls_total",
			Help: "Calls to the embedding provider by result",
		},
		[]string{"result"},
	)
)
