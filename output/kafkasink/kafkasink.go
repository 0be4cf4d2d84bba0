// Package kafkasink provides the orchd.sinks.KafkaSink sink, which produces
// reaction output to a Kafka topic and waits for the broker acknowledgement.
package kafkasink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// SinkType is the type reference of the Kafka sink.
const SinkType = "orchd.sinks.KafkaSink"

// Producer is the subset of *kafka.Producer used by the sink.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Config holds configuration for the Kafka sink.
type Config struct {
	Brokers      []string
	Topic        string
	Acks         string
	Key          string
	Codec        string
	FlushTimeout time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "brokers are required")
	}
	if c.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "topic is required")
	}
	switch c.Acks {
	case "all", "0", "1", "-1":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: acks %q", errors.ErrInvalidConfig, c.Acks),
			"Config", "Validate", "check acks")
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check codec")
	}
	return nil
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := Config{
		Brokers: p.List("brokers"),
		Topic:   p.String("topic", ""),
		Acks:    p.String("acks", "all"),
		Key:     p.String("key", ""),
		Codec:   p.String("codec", codec.JSON),
	}
	var err error
	if cfg.FlushTimeout, err = p.Duration("flush_timeout", 5*time.Second); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink produces one Kafka message per payload.
type Sink struct {
	config   Config
	producer Producer
	ownsProd bool
	codec    codec.Codec
	logger   *slog.Logger

	closeOnce sync.Once

	produced int64
	failed   int64
}

// NewSink creates an unconfigured sink.
func NewSink() *Sink {
	return &Sink{}
}

// NewSinkWithProducer creates a sink that produces through p. The sink
// still flushes and closes p on Close.
func NewSinkWithProducer(p Producer) *Sink {
	return &Sink{producer: p}
}

// Configure implements sink.Configurable.
func (s *Sink) Configure(_ context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	s.config = cfg
	s.codec, _ = codec.ByName(cfg.Codec)
	s.logger = deps.GetLoggerWithComponent("kafka-sink").With("topic", cfg.Topic)

	if s.producer == nil {
		producer, err := kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers": strings.Join(cfg.Brokers, ","),
			"acks":              cfg.Acks,
			"retries":           3,
			"linger.ms":         5,
		})
		if err != nil {
			return errors.WrapInvalid(err, "KafkaSink", "Configure", "create producer")
		}
		s.producer = producer
	}
	s.ownsProd = true

	s.logger.Info("Kafka sink configured", "brokers", cfg.Brokers, "acks", cfg.Acks)
	return nil
}

// Accept produces one message and blocks until it is acknowledged or ctx
// is done.
func (s *Sink) Accept(ctx context.Context, data any) error {
	if s.producer == nil || s.codec == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "KafkaSink", "Accept", "check producer")
	}

	value, err := codec.EncodePayload(s.codec, data)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return err
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.config.Topic, Partition: kafka.PartitionAny},
		Value:          value,
		Headers:        []kafka.Header{{Key: "content-type", Value: []byte(s.codec.ContentType())}},
	}
	if s.config.Key != "" {
		msg.Key = []byte(s.config.Key)
	}

	// Buffered so a late delivery report never blocks the producer.
	delivery := make(chan kafka.Event, 1)
	if err := s.producer.Produce(msg, delivery); err != nil {
		atomic.AddInt64(&s.failed, 1)
		return errors.WrapTransient(err, "KafkaSink", "Accept", "produce")
	}

	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			atomic.AddInt64(&s.failed, 1)
			return errors.WrapTransient(m.TopicPartition.Error, "KafkaSink", "Accept", "deliver")
		}
		if kerr, ok := ev.(kafka.Error); ok {
			atomic.AddInt64(&s.failed, 1)
			return errors.WrapTransient(kerr, "KafkaSink", "Accept", "deliver")
		}
	case <-ctx.Done():
		atomic.AddInt64(&s.failed, 1)
		return errors.WrapTransient(ctx.Err(), "KafkaSink", "Accept", "wait for delivery")
	}

	atomic.AddInt64(&s.produced, 1)
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (s *Sink) Close(context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if !s.ownsProd || s.producer == nil {
			return
		}
		if remaining := s.producer.Flush(int(s.config.FlushTimeout.Milliseconds())); remaining > 0 {
			err = errors.WrapTransient(
				fmt.Errorf("%d messages not delivered", remaining),
				"KafkaSink", "Close", "flush")
		}
		s.producer.Close()
	})
	return err
}

// Stats returns acknowledged messages and failures.
func (s *Sink) Stats() (produced, failed int64) {
	return atomic.LoadInt64(&s.produced), atomic.LoadInt64(&s.failed)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.KafkaSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"brokers": "localhost:9092",
			"topic":   "orchd.output",
			"acks":    "all",
		},
	}
}

// Register registers the Kafka sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "Produces output to a Kafka topic",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
