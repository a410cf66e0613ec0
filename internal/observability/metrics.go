package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roadside"

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "api_calls_total", Help: "Backend calls by endpoint and outcome"},
		[]string{"endpoint", "outcome"},
	)
	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_call_duration_seconds",
			Help:      "Backend call latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	PollTicksTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "tracking_poll_ticks_total", Help: "Tracking poll ticks by outcome"}, []string{"outcome"})
	LocationPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "location_pushes_total", Help: "Device location pushes by outcome"}, []string{"outcome"})
	ActivePollers       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracking_pollers_active", Help: "Running tracking pollers"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_transitions_total", Help: "Observed request status transitions"},
		[]string{"from", "to"},
	)
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_actions_total", Help: "User issued lifecycle actions by outcome"},
		[]string{"op", "outcome"},
	)
	StaleDiscardsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_stale_discards_total", Help: "Server records discarded as older than local state"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "bridge_ws_clients", Help: "Connected presentation websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total bridge HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Bridge HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
