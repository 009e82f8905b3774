package deploy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/saga"
)

var stepBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}

type metrics struct {
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	deployments  *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voyager",
			Subsystem: "saga",
			Name:      "step_events_total",
			Help:      "Saga step transitions by step and phase",
		}, []string{"step", "phase"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voyager",
			Subsystem: "saga",
			Name:      "step_duration_seconds",
			Help:      "Duration of saga step actions",
			Buckets:   stepBuckets,
		}, []string{"step", "phase"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voyager",
			Name:      "deployments_total",
			Help:      "Deployment outcomes by mode",
		}, []string{"mode", "outcome"}),
	}
	m.steps = register(m.steps)
	m.stepDuration = register(m.stepDuration)
	m.deployments = register(m.deployments)
	return m
}

// register returns the collector already registered under the same name, if any.
func register[C prometheus.Collector](collector C) C {
	if err := prometheus.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}

func (m *metrics) step(e saga.Event) {
	m.steps.WithLabelValues(e.Step, string(e.Phase)).Inc()
	m.stepDuration.WithLabelValues(e.Step, string(e.Phase)).Observe(e.Duration.Seconds())
}

func (m *metrics) deployment(mode domain.Mode, outcome string) {
	m.deployments.WithLabelValues(string(mode), outcome).Inc()
}
