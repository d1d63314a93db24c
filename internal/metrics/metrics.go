package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamAttemptsTotal tracks upstream attempts per logical stream
	StreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_attempts_total",
			Help: "Total number of upstream stream attempts",
		},
		[]string{"stream"},
	)

	// StreamRetriesTotal tracks retries per logical stream
	StreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_retries_total",
			Help: "Total number of stream retries",
		},
		[]string{"stream"},
	)

	// StreamEventsTotal tracks consumer-facing events by kind
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_events_total",
			Help: "Total number of events delivered to consumers",
		},
		[]string{"stream", "kind"},
	)

	// RetryBackoffSeconds tracks the randomized sleep before each retry
	RetryBackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_retry_backoff_seconds",
			Help:    "Backoff sleep duration before retries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	// PagesFetchedTotal tracks page fetches per resource field
	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"resource"},
	)

	// PageResourcesTotal tracks resources yielded per resource field
	PageResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_page_resources_total",
			Help: "Total number of page resources yielded",
		},
		[]string{"resource"},
	)

	// CheckpointOpsTotal tracks checkpoint store operations
	CheckpointOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_checkpoint_ops_total",
			Help: "Total number of checkpoint store operations",
		},
		[]string{"op"},
	)

	// SessionsTotal tracks finished stream sessions by outcome
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of finished stream sessions",
		},
		[]string{"stream", "outcome"},
	)
)
