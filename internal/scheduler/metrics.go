package scheduler

import "github.com/prometheus/client_golang/prometheus"

// schedulerMetrics holds the Prometheus collectors exported by a
// Scheduler instance. Registered only when Config.Metrics is set, so
// tests that construct many schedulers don't collide on the default
// registry; a failed registration (e.g. a duplicate) is ignored.
type schedulerMetrics struct {
	queueDepth      *prometheus.GaugeVec
	dispatchTotal   *prometheus.CounterVec
	dispatchFailure *prometheus.CounterVec
	budgetExceeded  prometheus.Counter
}

func newSchedulerMetrics(name string, registerer prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "scheduler_queue_depth",
				Help:        "Number of tasks currently queued per event heap.",
				ConstLabels: prometheus.Labels{"scheduler": name},
			},
			[]string{"event"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduler_dispatch_total",
				Help:        "Total number of task dispatches.",
				ConstLabels: prometheus.Labels{"scheduler": name},
			},
			[]string{"event"},
		),
		dispatchFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduler_dispatch_failure_total",
				Help:        "Total number of task dispatches that panicked or errored.",
				ConstLabels: prometheus.Labels{"scheduler": name},
			},
			[]string{"event"},
		),
		budgetExceeded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "scheduler_budget_exceeded_total",
				Help:        "Number of step() calls that stopped dispatch early due to frame budget exhaustion.",
				ConstLabels: prometheus.Labels{"scheduler": name},
			},
		),
	}
	if registerer != nil {
		for _, c := range []prometheus.Collector{m.queueDepth, m.dispatchTotal, m.dispatchFailure, m.budgetExceeded} {
			_ = registerer.Register(c)
		}
	}
	return m
}
