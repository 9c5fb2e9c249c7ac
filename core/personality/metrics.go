package personality

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// run outcomes
const (
	outcomeCommitted          = "committed"
	outcomeNoPendingSignals   = "no_pending_signals"
	outcomeInsufficientSignal = "insufficient_signal"
	outcomeScoringUnavailable = "scoring_unavailable"
	outcomeInProgress         = "in_progress"
	outcomeCancelled          = "cancelled"
	outcomeError              = "error"
)

// Metrics exposes Prometheus collectors that report analysis activity.
type Metrics struct {
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	scorerAttempts *prometheus.CounterVec
	typeChanges    prometheus.Counter
	population     prometheus.Gauge
	rankDuration   prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors already registered under the same names.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "analysis_runs_total",
				Help:      "Analysis runs by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "analysis_run_duration_seconds",
				Help:      "Duration of analysis runs.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		scorerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "scorer_attempts_total",
				Help:      "Scorer invocations by result.",
			},
			[]string{"result"},
		),
		typeChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "type_changes_total",
				Help:      "Committed analyses whose dominant type differs from the previous one.",
			},
		),
		population: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "ranking_population",
				Help:      "Size of the distribution used by the last ranking.",
			},
		),
		rankDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "id8",
				Subsystem: "personality",
				Name:      "ranking_duration_seconds",
				Help:      "Time spent snapshotting the distribution and ranking a vector.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	m.runs = register(reg, m.runs)
	m.runDuration = register(reg, m.runDuration)
	m.scorerAttempts = register(reg, m.scorerAttempts)
	m.typeChanges = register(reg, m.typeChanges)
	m.population = register(reg, m.population)
	m.rankDuration = register(reg, m.rankDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObserveRun(trigger Trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(trigger), outcome).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(d.Seconds())
}

func (m *Metrics) IncScorerAttempt(result string) {
	if m == nil {
		return
	}
	m.scorerAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncTypeChange() {
	if m == nil {
		return
	}
	m.typeChanges.Inc()
}

func (m *Metrics) ObserveRanking(population int, d time.Duration) {
	if m == nil {
		return
	}
	m.population.Set(float64(population))
	m.rankDuration.Observe(d.Seconds())
}
