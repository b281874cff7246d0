package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_relay", Name: "matches_total", Help: "Total number of nearby-driver queries answered"})
	MatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_relay", Name: "match_latency_seconds", Help: "Match latency seconds"})
	MatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_relay", Name: "match_candidates", Help: "Drivers returned per query", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}})
	DriversTracked  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_relay", Name: "drivers_tracked", Help: "Number of entries in the driver registry"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_relay", Name: "active_connections", Help: "Open relay connections"})
	MessagesTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_relay", Name: "messages_total", Help: "Inbound relay messages by type"},
		[]string{"type"},
	)
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_relay", Name: "messages_dropped_total", Help: "Inbound relay messages ignored, by reason"},
		[]string{"reason"},
	)

	SinkEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_relay", Name: "sink_events_total", Help: "Location events handed to sinks, by sink and result"},
		[]string{"sink", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_relay", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_relay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
