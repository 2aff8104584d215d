package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesPublished  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "updates_published_total", Help: "Outbound location updates sent"})
	UpdatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "updates_suppressed_total", Help: "Location updates suppressed outside the geofence"})
	UpdatesThrottled  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "updates_throttled_total", Help: "Location updates dropped by the minimum-interval limiter"})

	BoundaryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "boundary_transitions_total", Help: "Geofence boundary state transitions"},
		[]string{"to"},
	)
	SamplerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "sampler_errors_total", Help: "Location sampler errors by code"},
		[]string{"code"},
	)

	SessionClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "delivery_tracking", Name: "session_clients", Help: "WebSocket clients currently attached to session hubs"})

	RealtimeSendsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "realtime_sends_dropped_total", Help: "Fire-and-forget sends dropped while disconnected"})

	FallbackReads = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "fallback_reads_total", Help: "Peer-location fallback reads by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
