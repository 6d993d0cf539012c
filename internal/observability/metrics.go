package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/upb/llm-quota-router/models"
)

const namespace = "llm_router"

// Metrics holds the router collectors
type Metrics struct {
	registry *prometheus.Registry

	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RoutesTotal     *prometheus.CounterVec
	RouteDuration   *prometheus.HistogramVec
	CostTotal       *prometheus.CounterVec
	QuotaUsage      *prometheus.GaugeVec
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry, plus the Go
// and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "attempts_total",
				Help:      "Total number of candidate attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),

		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		RoutesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "route",
				Name:      "requests_total",
				Help:      "Total number of routed requests",
			},
			[]string{"strategy", "success", "from_cache"},
		),

		RouteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "route",
				Name:      "duration_seconds",
				Help:      "End-to-end route duration in seconds",
				Buckets:   []float64{.005, .05, .25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),

		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cost",
				Name:      "usd_total",
				Help:      "Estimated spend in USD",
			},
			[]string{"provider"},
		),

		QuotaUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "usage_percent",
				Help:      "Daily usage against raw limits",
			},
			[]string{"provider", "metric"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Registry returns the registry to expose over /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt counts one candidate step
func (m *Metrics) ObserveAttempt(provider string, outcome models.AttemptOutcome, latency time.Duration) {
	m.AttemptsTotal.WithLabelValues(provider, string(outcome)).Inc()
	if outcome == models.AttemptOutcomeSuccess || outcome == models.AttemptOutcomeFailed {
		m.AttemptDuration.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

// ObserveRoute counts one routed request
func (m *Metrics) ObserveRoute(strategy string, success, fromCache bool, latency time.Duration) {
	m.RoutesTotal.WithLabelValues(strategy, strconv.FormatBool(success), strconv.FormatBool(fromCache)).Inc()
	m.RouteDuration.WithLabelValues(strategy).Observe(latency.Seconds())
}

// AddCost adds spend for a provider
func (m *Metrics) AddCost(provider string, cost float64) {
	if cost > 0 {
		m.CostTotal.WithLabelValues(provider).Add(cost)
	}
}

// SetQuotaUsage publishes usage percentages of one provider
func (m *Metrics) SetQuotaUsage(provider string, requests, tokens, cost float64) {
	m.QuotaUsage.WithLabelValues(provider, "requests").Set(requests)
	m.QuotaUsage.WithLabelValues(provider, "tokens").Set(tokens)
	m.QuotaUsage.WithLabelValues(provider, "cost").Set(cost)
}

// ObserveHTTP counts one HTTP response
func (m *Metrics) ObserveHTTP(method, path string, status int) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
