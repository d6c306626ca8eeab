package saga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StepOutcomeSucceeded = "succeeded"
	StepOutcomeRetried   = "retried"
	StepOutcomeFailed    = "failed"
	StepOutcomeSkipped   = "skipped"
)

// Metrics observes lifecycle of sagas and their steps
type Metrics interface {
	SagaStarted(sagaType string)
	SagaFinished(sagaType string, status Status)
	StepExecuted(sagaType, stepName, outcome string, duration time.Duration)
	StepCompensated(sagaType, stepName string, success bool)
}

// NopMetrics returns Metrics that observe nothing
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) SagaStarted(string) {}
func (nopMetrics) SagaFinished(string, Status) {}
func (nopMetrics) StepExecuted(string, string, string, time.Duration) {}
func (nopMetrics) StepCompensated(string, string, bool) {}

// PrometheusMetrics holds Prometheus collectors for the saga engine.
type PrometheusMetrics struct {
	SagasStarted      *prometheus.CounterVec
	SagasFinished     *prometheus.CounterVec
	StepExecutions    *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	StepCompensations *prometheus.CounterVec
}

// NewPrometheusMetrics registers collectors with the provided registerer. If registerer is nil, the default one is used.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		SagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_sagas_started_total",
			Help: "Total sagas started by type.",
		}, []string{"type"}),
		SagasFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_sagas_finished_total",
			Help: "Total sagas reaching a final status by type and status.",
		}, []string{"type", "status"}),
		StepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_step_executions_total",
			Help: "Total step executions by saga type, step and outcome.",
		}, []string{"type", "step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_step_duration_seconds",
			Help:    "Step execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type", "step"}),
		StepCompensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_step_compensations_total",
			Help: "Total step compensations by saga type, step and result.",
		}, []string{"type", "step", "result"}),
	}

	registerer.MustRegister(
		m.SagasStarted,
		m.SagasFinished,
		m.StepExecutions,
		m.StepDuration,
		m.StepCompensations,
	)

	return m
}

func (m *PrometheusMetrics) SagaStarted(sagaType string) {
	m.SagasStarted.WithLabelValues(sagaType).Inc()
}

func (m *PrometheusMetrics) SagaFinished(sagaType string, status Status) {
	m.SagasFinished.WithLabelValues(sagaType, status.String()).Inc()
}

func (m *PrometheusMetrics) StepExecuted(sagaType, stepName, outcome string, duration time.Duration) {
	m.StepExecutions.WithLabelValues(sagaType, stepName, outcome).Inc()
	m.StepDuration.WithLabelValues(sagaType, stepName).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) StepCompensated(sagaType, stepName string, success bool) {
	result := "succeeded"
	if !success {
		result = "failed"
	}

	m.StepCompensations.WithLabelValues(sagaType, stepName, result).Inc()
}
