package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_created_total", Help: "Total ride requests submitted"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "ride_accept_conflicts_total", Help: "Accepts that lost the race for an open ride"})
	ProvidersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "campus_rides", Name: "providers_online", Help: "Number of online drivers"})
	PushStreams     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "campus_rides", Name: "push_streams", Help: "Open SSE and WebSocket streams"})

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "ride_transitions_total", Help: "Committed ride status changes"},
		[]string{"from", "to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
