package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orchd"

// Metrics contains the runtime metrics shared by the bus, reactions, sinks
// and sensors. All Record methods are safe on a nil receiver so components
// can run without a registry.
type Metrics struct {
	// Bus
	EventsPublished  *prometheus.CounterVec
	SubscriberErrors *prometheus.CounterVec
	Subscribers      *prometheus.GaugeVec

	// Reactions
	ReactionState       *prometheus.GaugeVec
	HandlerInvocations  *prometheus.CounterVec
	HandlerDuration     *prometheus.HistogramVec
	SinkDeliveries      *prometheus.CounterVec
	SinkDeliverySeconds *prometheus.HistogramVec

	// Sensors
	SensorSamples *prometheus.CounterVec
	SensorState   *prometheus.GaugeVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set without registering it.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Events published on the bus",
			},
			[]string{"bus"},
		),

		SubscriberErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "subscriber_errors_total",
				Help:      "Subscriber failures isolated during publish",
			},
			[]string{"bus"},
		),

		Subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "subscribers",
				Help:      "Currently registered subscribers",
			},
			[]string{"bus"},
		),

		ReactionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reaction",
				Name:      "state",
				Help:      "Reaction state (0=uninitialized, 1=provisioning, 2=ready, 3=running, 4=stopped, 5=error, 6=finalized)",
			},
			[]string{"reaction"},
		),

		HandlerInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaction",
				Name:      "handler_invocations_total",
				Help:      "Handler invocations by outcome",
			},
			[]string{"handler", "status"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reaction",
				Name:      "handler_duration_seconds",
				Help:      "Handler execution time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),

		SinkDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "deliveries_total",
				Help:      "Sink deliveries by outcome (success, error, dropped)",
			},
			[]string{"sink_class", "status"},
		),

		SinkDeliverySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "delivery_duration_seconds",
				Help:      "Time spent in Sink.Accept",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink_class"},
		),

		SensorSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sensor",
				Name:      "samples_total",
				Help:      "Sensor samples by outcome (forwarded, discarded)",
			},
			[]string{"sensor", "outcome"},
		),

		SensorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sensor",
				Name:      "running",
				Help:      "Sensor sampling loop status (0=idle, 1=running)",
			},
			[]string{"sensor"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EventsPublished,
		c.SubscriberErrors,
		c.Subscribers,
		c.ReactionState,
		c.HandlerInvocations,
		c.HandlerDuration,
		c.SinkDeliveries,
		c.SinkDeliverySeconds,
		c.SensorSamples,
		c.SensorState,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordEventPublished increments the published counter for a bus.
func (c *Metrics) RecordEventPublished(bus string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(bus).Inc()
}

// RecordSubscriberError counts an isolated subscriber failure.
func (c *Metrics) RecordSubscriberError(bus string) {
	if c == nil {
		return
	}
	c.SubscriberErrors.WithLabelValues(bus).Inc()
}

// RecordSubscribers sets the subscriber gauge for a bus.
func (c *Metrics) RecordSubscribers(bus string, n int) {
	if c == nil {
		return
	}
	c.Subscribers.WithLabelValues(bus).Set(float64(n))
}

// RecordReactionState sets the numeric state of a reaction.
func (c *Metrics) RecordReactionState(reaction string, state int) {
	if c == nil {
		return
	}
	c.ReactionState.WithLabelValues(reaction).Set(float64(state))
}

// ForgetReaction drops the state series of a closed reaction.
func (c *Metrics) ForgetReaction(reaction string) {
	if c == nil {
		return
	}
	c.ReactionState.DeleteLabelValues(reaction)
}

// RecordHandlerInvocation counts a handler call and observes its duration.
func (c *Metrics) RecordHandlerInvocation(handler, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.HandlerInvocations.WithLabelValues(handler, status).Inc()
	c.HandlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordSinkDelivery counts a sink delivery by status. Dropped deliveries
// pass a zero duration and are not observed.
func (c *Metrics) RecordSinkDelivery(sinkClass, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.SinkDeliveries.WithLabelValues(sinkClass, status).Inc()
	if duration > 0 {
		c.SinkDeliverySeconds.WithLabelValues(sinkClass).Observe(duration.Seconds())
	}
}

// RecordSensorSample counts a sensor sample outcome.
func (c *Metrics) RecordSensorSample(sensor, outcome string) {
	if c == nil {
		return
	}
	c.SensorSamples.WithLabelValues(sensor, outcome).Inc()
}

// RecordSensorRunning flags whether the sensor loop is running.
func (c *Metrics) RecordSensorRunning(sensor string, running bool) {
	if c == nil {
		return
	}
	c.SensorState.WithLabelValues(sensor).Set(boolToFloat(running))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(float64(state))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
