// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	aiCalls      *prometheus.CounterVec
	aiDuration   *prometheus.HistogramVec
	keyRetries   prometheus.Counter
	botUpdates   *prometheus.CounterVec
	streakEvents *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noteforge_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noteforge_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		aiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noteforge_ai_calls_total",
			Help: "LLM calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		aiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noteforge_ai_call_duration_seconds",
			Help:    "LLM call latency including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"operation"}),
		keyRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "noteforge_project_key_retries_total",
			Help: "Project key allocations retried after a uniqueness conflict",
		}),
		botUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noteforge_bot_updates_total",
			Help: "Messaging bot updates by kind",
		}, []string{"kind"}),
		streakEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noteforge_streak_updates_total",
			Help: "Project streak updates by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// All observe methods accept a nil receiver so packages can run without
// metrics in tests.

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAI(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(operation, outcome).Inc()
	m.aiDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) KeyRetry() {
	if m == nil {
		return
	}
	m.keyRetries.Inc()
}

func (m *Metrics) BotUpdate(kind string) {
	if m == nil {
		return
	}
	m.botUpdates.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreakUpdate(outcome string) {
	if m == nil {
		return
	}
	m.streakEvents.WithLabelValues(outcome).Inc()
}
