package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "connections_active", Help: "Currently connected clients"})
	PresenceUpserts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_upserts_total", Help: "Successful presence upserts"})
	PresenceRemovals  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_removals_total", Help: "Presence removals on disconnect"})
	PresenceSkipped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_skipped_total", Help: "Presence entries skipped by proximity queries for bad coordinates"})

	OffersSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_sent_total", Help: "new_ride offers fanned out to candidate drivers"})

	RideOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ride_outcomes_total", Help: "Terminal ride outcomes by status"},
		[]string{"status"},
	)

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "messages_dropped_total", Help: "Outbound messages dropped because a session send buffer was full"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
