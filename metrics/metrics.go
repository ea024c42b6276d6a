// Package metrics exposes judging counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	verdicts       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	teardownErrors prometheus.Counter
	rejected       prometheus.Counter
	environments   map[string]bool
}

// unknownEnvironment labels tasks naming an environment outside the
// configured set.
const unknownEnvironment = "unknown"

// New registers the collectors on reg. Only the given environments get their
// own label value.
func New(reg prometheus.Registerer, environments []string) *Metrics {
	known := make(map[string]bool, len(environments))
	for _, env := range environments {
		known[env] = true
	}
	f := promauto.With(reg)
	return &Metrics{
		environments: known,
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_verdicts_total",
			Help: "Verdicts produced, by environment and status.",
		}, []string{"environment", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_duration_seconds",
			Help:    "Wall time spent judging one task, teardown included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"environment"}),
		teardownErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "judge_teardown_errors_total",
			Help: "Sandbox teardowns that reported an error.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "judge_rejected_messages_total",
			Help: "Messages rejected without a verdict.",
		}),
	}
}

func (m *Metrics) ObserveVerdict(v model.Verdict) {
	if m == nil {
		return
	}
	env := v.Environment
	if !m.environments[env] {
		env = unknownEnvironment
	}
	m.verdicts.WithLabelValues(env, v.Status.String()).Inc()
	m.duration.WithLabelValues(env).Observe(v.Duration.Seconds())
}

func (m *Metrics) TeardownError() {
	if m == nil {
		return
	}
	m.teardownErrors.Inc()
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
