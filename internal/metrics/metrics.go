// Package metrics exposes workflow operation counters to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Workflow records the outcome and latency of every engine mutation.
type Workflow struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewWorkflow(reg prometheus.Registerer) *Workflow {
	w := &Workflow{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facility",
			Subsystem: "workflow",
			Name:      "operations_total",
			Help:      "Workflow operations by name and result kind.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "facility",
			Subsystem: "workflow",
			Name:      "operation_seconds",
			Help:      "Workflow operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(w.operations, w.duration)
	}
	return w
}

// Observe records one finished operation. result is "ok" or an error kind.
func (w *Workflow) Observe(operation, result string, elapsed time.Duration) {
	if w == nil {
		return
	}
	w.operations.WithLabelValues(operation, result).Inc()
	w.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
