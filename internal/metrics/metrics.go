package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podpilot_http_requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podpilot_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	}, []string{"method", "route"})

	// ProviderRequestsTotal counts calls to the RunPod API by outcome:
	// ok, upstream_error, bad_response, timeout, unreachable.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podpilot_provider_requests_total",
		Help: "Total number of requests sent to the pod provider",
	}, []string{"operation", "outcome"})

	HTTPPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podpilot_http_panics_total",
		Help: "Handler panics recovered by the HTTP server",
	})

	SessionLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podpilot_session_logs_total",
		Help: "Training session logs by resulting state",
	}, []string{"state"})
)
