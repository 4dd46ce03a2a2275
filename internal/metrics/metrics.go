package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deskchat_connections_active",
			Help: "Currently registered relay connections",
		},
		[]string{"role"}, // "admin" or "customer"
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_messages_relayed_total",
			Help: "Chat messages persisted and routed",
		},
		[]string{"direction"}, // "admin_to_customer" or "customer_to_admins"
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_delivery_failures_total",
			Help: "Deliveries that found no live target",
		},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_decode_errors_total",
			Help: "Malformed inbound frames answered with an error frame",
		},
	)
)
