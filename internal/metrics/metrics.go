// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	upstreamRequests *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "likerland",
			Name:      "upstream_requests_total",
			Help:      "Requests sent to external APIs, by API and outcome.",
		}, []string{"api", "outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "likerland",
			Name:      "token_refreshes_total",
			Help:      "OAuth access token refresh attempts, by result.",
		}, []string{"result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "likerland",
			Name:      "subscription_operations_total",
			Help:      "Subscription operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "likerland",
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.upstreamRequests, m.tokenRefreshes, m.reconciliations, m.httpDuration)
	return m
}

// Upstream records one outbound call. status is the HTTP status, or 0 for
// a transport failure.
func (m *Metrics) Upstream(api string, status int) {
	if m == nil {
		return
	}
	outcome := "error"
	switch {
	case status == 0:
		outcome = "network_error"
	case status < 400:
		outcome = "ok"
	case status == 401:
		outcome = "unauthorized"
	}
	m.upstreamRequests.WithLabelValues(api, outcome).Inc()
}

func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Subscription(operation, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
