package syncworker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Task results recorded by Metrics.TaskResults.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultBusy    = "busy"
	ResultRemoved = "removed"
	ResultTripped = "tripped"
)

const (
	metricsNS     = "searchview"
	metricsSubsys = "sync_worker"
	resultLabel   = "result"
)

// Metrics holds the worker's prometheus collectors.
type Metrics struct {
	Cycles        prometheus.Counter
	TaskResults   *prometheus.CounterVec
	ActiveTasks   prometheus.Gauge
	CycleDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNS,
			Subsystem: metricsSubsys,
			Name:      "cycles_total",
			Help:      "Completed sync worker cycles.",
		}),
		TaskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNS,
			Subsystem: metricsSubsys,
			Name:      "task_results_total",
			Help:      "Outcome of each task visit, by result.",
		}, []string{resultLabel}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNS,
			Subsystem: metricsSubsys,
			Name:      "active_tasks",
			Help:      "Tasks currently scheduled by the worker.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNS,
			Subsystem: metricsSubsys,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one sync cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.TaskResults, m.ActiveTasks, m.CycleDuration)
	}
	return m
}

func (m *Metrics) result(r string) {
	m.TaskResults.WithLabelValues(r).Inc()
}
