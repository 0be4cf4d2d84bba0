package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
)

// engineMetrics holds Prometheus metrics for engine operations.
type engineMetrics struct {
	// Lifecycle operations by entity (reaction/sensor), op and status
	operations *prometheus.CounterVec

	// Operation latency by entity and op
	operationDuration *prometheus.HistogramVec

	// Validation results by status (valid/warnings/errors)
	validations *prometheus.CounterVec

	// Owned entities
	reactions prometheus.Gauge
	sensors   prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of engine operations",
		}, []string{"entity", "op", "status"}), // status: success, invalid, failure

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchd",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"entity", "op"}),

		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchd",
			Subsystem: "engine",
			Name:      "validations_total",
			Help:      "Total number of template validations",
		}, []string{"status"}),

		reactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchd",
			Subsystem: "engine",
			Name:      "reactions",
			Help:      "Current number of reactions owned by the engine",
		}),

		sensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchd",
			Subsystem: "engine",
			Name:      "sensors",
			Help:      "Current number of sensors owned by the engine",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "operation_duration", m.operationDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "validations", m.validations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "reactions", m.reactions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "sensors", m.sensors); err != nil {
		return nil, err
	}

	return m, nil
}

// recordOperation records one lifecycle operation.
func (m *engineMetrics) recordOperation(entity, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}

	status := "success"
	switch {
	case err == nil:
	case errors.IsInvalid(err):
		status = "invalid"
	default:
		status = "failure"
	}

	m.operations.WithLabelValues(entity, op, status).Inc()
	m.operationDuration.WithLabelValues(entity, op).Observe(duration.Seconds())
}

// recordValidation records the outcome of a validation run.
func (m *engineMetrics) recordValidation(status string) {
	if m != nil {
		m.validations.WithLabelValues(status).Inc()
	}
}

func (m *engineMetrics) setReactions(n int) {
	if m != nil {
		m.reactions.Set(float64(n))
	}
}

func (m *engineMetrics) setSensors(n int) {
	if m != nil {
		m.sensors.Set(float64(n))
	}
}
