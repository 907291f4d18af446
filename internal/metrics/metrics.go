package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "observatory_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Feed metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_events_ingested_total",
			Help: "Total events accepted for ingestion",
		},
		[]string{"mode"}, // "persisted" or "proxy-mode"
	)

	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "observatory_events_duplicate_total",
			Help: "Total ingests short-circuited by the dedup marker",
		},
	)

	EventsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "observatory_events_evicted_total",
			Help: "Total events trimmed by the retention cap",
		},
	)

	IngestDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "observatory_ingest_degraded_total",
			Help: "Total ingests answered with a soft success after a store failure",
		},
	)

	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"source"}, // "admin" or "setup"
	)

	BridgeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_bridge_requests_total",
			Help: "Total requests forwarded to the local bridge",
		},
		[]string{"op", "result"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observatory_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	ActiveVisitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "observatory_active_visitors",
			Help: "Visitors with a live presence heartbeat at the last count",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "observatory_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	SQLLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "observatory_sql_latency_seconds",
			Help:    "Room registry SQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"driver"},
	)
)
