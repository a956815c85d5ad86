// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP requests by route and status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	// Tokens minted by role (publisher, subscriber, data, server)
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued",
		},
		[]string{"role"},
	)

	// Pin operations by result (pinned, unpinned, noop, rejected, error)
	PinSwaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "pin_operations_total",
			Help:      "Pin operations by result",
		},
		[]string{"result"},
	)

	// Catalog mutations by operation and result
	CatalogOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "catalog_operations_total",
			Help:      "Session catalog mutations",
		},
		[]string{"op", "result"},
	)

	// Room provider calls
	RoomCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "room_provider_calls_total",
			Help:      "Calls to the room provider",
		},
		[]string{"op", "result"},
	)

	RoomCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "room_provider_call_duration_seconds",
			Help:      "Room provider call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "events_published_total",
			Help:      "Product events handed to the broker",
		},
		[]string{"result"},
	)

	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "events_relayed_total",
			Help:      "Product events forwarded to rooms",
		},
		[]string{"result"},
	)

	// Session lifecycle transitions performed by the sweeper or by owners
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "commerce",
			Name:      "session_transitions_total",
			Help:      "Session lifecycle transitions",
		},
		[]string{"to", "cause"},
	)
)

// Handler returns the HTTP handler that serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
