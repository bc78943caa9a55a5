package interp

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the optional instrumentation surface a host attaches to a run
// through Options.Registry: nil (the default) means every method below is
// a no-op, the same capability-gate pattern spec.md uses for ScriptEnv's
// optional fields. When present, counters/histograms are registered once
// per *prometheus.Registry the first time it's used, mirroring the
// teacher pack's promauto.NewCounterVec globals but scoped per-registry
// instead of the default global one, since one process may host many
// independently-configured interpreters (spec.md §5).
type Metrics struct {
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	actions     *prometheus.CounterVec
}

var (
	metricsMu    sync.Mutex
	metricsCache = map[*prometheus.Registry]*Metrics{}
)

// metricsFor returns (creating and registering on first use) the Metrics
// bound to reg. A nil reg yields a nil *Metrics, whose methods are all
// no-ops. Guarded by metricsMu since spec.md §5 allows many interpreters
// to run Execute concurrently against the same shared registry.
func metricsFor(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m, ok := metricsCache[reg]; ok {
		return m
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_runs_total",
			Help: "Total number of Sieve script executions, by outcome status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sieve_run_duration_seconds",
			Help:    "Wall-clock duration of a single Sieve script execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_actions_total",
			Help: "Total number of actions queued into a Result, by action name.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.runs, m.runDuration, m.actions)
	metricsCache[reg] = m
	return m
}

func (m *Metrics) observeRun(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status.String()).Inc()
	m.runDuration.WithLabelValues(status.String()).Observe(d.Seconds())
}

func (m *Metrics) observeAction(name string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(name).Inc()
}
