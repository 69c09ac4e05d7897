package kiddoalert

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiddoalert_api_requests_total",
			Help: "Remote API calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiddoalert_api_request_duration_seconds",
			Help:    "Remote API round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiddoalert_token_refreshes_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	geofenceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiddoalert_geofence_transitions_total",
			Help: "Region membership transitions by direction",
		},
		[]string{"direction"},
	)

	geofenceRegions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiddoalert_geofence_regions",
			Help: "Number of regions currently monitored",
		},
	)

	syncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiddoalert_sync_failures_total",
			Help: "Best-effort remote sync failures by operation",
		},
		[]string{"op"},
	)

	historyEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiddoalert_history_events_total",
			Help: "History events appended locally by type",
		},
		[]string{"type"},
	)
)

// outcomeLabel maps an API error to a low-cardinality metric label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrServer):
		return "server_error"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	case errors.Is(err, ErrDecoding):
		return "decoding_error"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "unknown"
	}
}
