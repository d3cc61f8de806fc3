// Package metrics exposes the server's Prometheus collectors. All metrics
// live in a private registry so tests can construct isolated instances,
// and the typerank_ prefix keeps scrapes collision-free.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryoh/typerank/internal/realtime"
)

const namespace = "typerank"

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Session lifecycle
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionsSwept    prometheus.Counter
	TokensPruned     prometheus.Counter

	// Realtime
	WSConnections prometheus.Gauge
}

// New creates a Metrics with its own registry, including the standard Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Typing sessions started.",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Typing sessions terminalized, by final status.",
		}, []string{"status"}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Stale running sessions expired by the janitor.",
		}),
		TokensPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_pruned_total",
			Help:      "Expired refresh tokens removed by the janitor.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open leaderboard WebSocket connections.",
		}),
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RegisterFanout exports the fan-out's publish counters. The fan-out owns
// the numbers; the registry reads them at scrape time.
func (m *Metrics) RegisterFanout(f *realtime.Fanout) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_snapshots_total",
		Help:      "Leaderboard snapshots handed to the fan-out.",
	}, func() float64 { return float64(f.Published()) }))
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_publish_failures_total",
		Help:      "External leaderboard publishes that errored.",
	}, func() float64 { return float64(f.Failed()) }))
}

// RegisterBreaker exports the external publisher's circuit state:
// 0 closed, 1 open.
func (m *Metrics) RegisterBreaker(b *realtime.Breaker) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "publish_breaker_open",
		Help:      "Whether the external publish circuit breaker is open.",
	}, func() float64 {
		if b.State() == realtime.BreakerOpen {
			return 1
		}
		return 0
	}))
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
