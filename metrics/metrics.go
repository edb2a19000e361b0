// Package metrics exposes Prometheus collectors for the auth client.
// Embedding applications register nothing themselves; collectors attach to
// the default registry and are served by whatever /metrics handler the
// application already runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh Metrics
var (
	// RefreshTotal tracks refresh settlements by outcome (success, rejected, no_session)
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authclient_refresh_total",
			Help: "Refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshDeduplicated tracks callers that attached to an in-flight refresh
	// instead of starting their own network call
	RefreshDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authclient_refresh_deduplicated_total",
			Help: "Refresh callers coalesced onto an in-flight refresh",
		},
	)

	// RefreshDuration tracks refresh exchange latency in seconds
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authclient_refresh_duration_seconds",
			Help:    "Refresh exchange duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Gateway Metrics
var (
	// GatewayRequestsTotal tracks proxied requests by status class (2xx, 4xx, ...)
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authclient_gateway_requests_total",
			Help: "Requests sent through the gateway by status class",
		},
		[]string{"status_class"},
	)

	// GatewayRetriesTotal tracks 401-driven retries after a refresh
	GatewayRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authclient_gateway_retries_total",
			Help: "Requests re-issued after a transparent refresh",
		},
	)
)
