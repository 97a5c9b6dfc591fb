// Package metrics exposes saga telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudretail/saga"
)

// Collector is a saga.Observer that records Prometheus metrics.
type Collector struct {
	transitions  *prometheus.CounterVec
	steps        *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	inFlight     *prometheus.GaugeVec
}

var _ saga.Observer = (*Collector)(nil)

// NewCollector creates the saga metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailsaga",
			Name:      "saga_status_transitions_total",
			Help:      "Saga runs entering a status.",
		}, []string{"saga", "status"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retailsaga",
			Name:      "saga_step_duration_seconds",
			Help:      "Duration of step actions and compensations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"saga", "step", "phase"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailsaga",
			Name:      "saga_step_failures_total",
			Help:      "Step actions and compensations that returned an error.",
		}, []string{"saga", "step", "phase"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "retailsaga",
			Name:      "saga_runs_in_flight",
			Help:      "Saga runs executing or compensating.",
		}, []string{"saga"}),
	}

	for _, m := range []prometheus.Collector{c.transitions, c.steps, c.stepFailures, c.inFlight} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) StatusChanged(name saga.SagaName, from, to saga.Status) {
	c.transitions.WithLabelValues(name.String(), to.String()).Inc()

	active := func(s saga.Status) bool {
		return s == saga.StatusInProgress || s == saga.StatusCompensating
	}
	switch {
	case active(to) && !active(from):
		c.inFlight.WithLabelValues(name.String()).Inc()
	case !active(to) && active(from):
		c.inFlight.WithLabelValues(name.String()).Dec()
	}
}

func (c *Collector) StepFinished(name saga.SagaName, step saga.StepName, phase saga.Phase, elapsed time.Duration, err error) {
	labels := []string{name.String(), string(step), string(phase)}
	c.steps.WithLabelValues(labels...).Observe(elapsed.Seconds())
	if err != nil {
		c.stepFailures.WithLabelValues(labels...).Inc()
	}
}
