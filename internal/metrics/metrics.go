// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	outboxEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox events handled by kind and result",
	}, []string{"kind", "result"})

	moderationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_actions_total",
		Help: "Moderation decisions by action and result",
	}, []string{"action", "result"})
)

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// OutboxEvent records the outcome of one outbox delivery attempt.
// result is one of "done", "retry" or "failed".
func OutboxEvent(kind, result string) {
	outboxEvents.WithLabelValues(kind, result).Inc()
}

// ModerationAction records one approve or reject decision.
func ModerationAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	moderationActions.WithLabelValues(action, result).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
