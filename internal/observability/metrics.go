// Package observability exposes Prometheus metrics for serving, the policy
// boundary, the release registry and retraining.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/pkg/circuit"
	"github.com/raphalvezz/loocac/internal/recommend"
	"github.com/raphalvezz/loocac/internal/store"
)

// Metrics holds all collectors. Each instance owns its registry so several
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Serving
	Recommendations       *prometheus.CounterVec
	RecommendationLatency *prometheus.HistogramVec

	// Policy boundary
	PolicyCalls        *prometheus.CounterVec
	PolicyCallLatency  *prometheus.HistogramVec
	PolicyBreakerState *prometheus.GaugeVec

	// Registry
	ReleaseSwaps    prometheus.Counter
	ReleaseInfo     *prometheus.GaugeVec
	ReleaseLoadedAt prometheus.Gauge

	// Retraining
	RetrainRuns     *prometheus.CounterVec
	RetrainDuration *prometheus.HistogramVec
	LastRetrain     prometheus.Gauge

	// Market config
	MarketReloads prometheus.Counter
}

// NewMetrics registers every collector under namespace, plus the Go and
// process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "recommendations_total",
			Help:      "Recommendation requests by regime and outcome code",
		}, []string{"regime", "code"}),
		RecommendationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "recommendation_duration_seconds",
			Help:      "End-to-end recommendation latency",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"regime"}),

		PolicyCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "calls_total",
			Help:      "Policy queries by regime, call and outcome",
		}, []string{"regime", "call", "outcome"}),
		PolicyCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "call_duration_seconds",
			Help:      "Policy query latency",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}, []string{"regime", "call"}),
		PolicyBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),

		ReleaseSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "swaps_total",
			Help:      "Number of releases swapped into serving",
		}),
		ReleaseInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "release_info",
			Help:      "Currently served release (value is always 1)",
		}, []string{"release_id", "format_version", "fingerprint"}),
		ReleaseLoadedAt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "release_loaded_timestamp",
			Help:      "Unix timestamp of the last release swap",
		}),

		RetrainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrain",
			Name:      "runs_total",
			Help:      "Retrain runs by final status",
		}, []string{"status"}),
		RetrainDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrain",
			Name:      "duration_seconds",
			Help:      "Retrain run duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		LastRetrain: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retrain",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of the last successful retrain",
		}),

		MarketReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "reloads_total",
			Help:      "Market configuration changes applied",
		}),
	}
}

// Handler serves the /metrics endpoint for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer is exposed for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) ObserveRecommendation(regime generator.Regime, code string, latency time.Duration) {
	m.Recommendations.WithLabelValues(string(regime), code).Inc()
	m.RecommendationLatency.WithLabelValues(string(regime)).Observe(latency.Seconds())
}

func (m *Metrics) ObservePolicyCall(regime generator.Regime, call string, latency time.Duration, err error) {
	m.PolicyCalls.WithLabelValues(string(regime), call, outcome(err)).Inc()
	m.PolicyCallLatency.WithLabelValues(string(regime), call).Observe(latency.Seconds())
}

func (m *Metrics) ObserveBreaker(name string, state circuit.State) {
	m.PolicyBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveRelease records a registry swap. Only the served release keeps a
// non-zero info series.
func (m *Metrics) ObserveRelease(releaseID, formatVersion, fingerprint string, at time.Time) {
	m.ReleaseSwaps.Inc()
	m.ReleaseInfo.Reset()
	m.ReleaseInfo.WithLabelValues(releaseID, formatVersion, fingerprint).Set(1)
	m.ReleaseLoadedAt.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveRetrain(status store.RunStatus, elapsed time.Duration) {
	m.RetrainRuns.WithLabelValues(string(status)).Inc()
	m.RetrainDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	if status == store.RunSucceeded {
		m.LastRetrain.SetToCurrentTime()
	}
}

// ObserveMarketReload counts applied market config changes.
func (m *Metrics) ObserveMarketReload() {
	m.MarketReloads.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, recommend.ErrPolicyTimeout):
		return "timeout"
	case errors.Is(err, recommend.ErrPolicyUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
