// Package natspub provides the orchd.sinks.NATSSink sink, which publishes
// reaction output to a NATS subject, optionally through JetStream.
package natspub

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/natsclient"
	"github.com/c360/orchd/pkg/retry"
)

// SinkType is the type reference of the NATS sink.
const SinkType = "orchd.sinks.NATSSink"

// Publisher is the subset of natsclient.Client the sink publishes through.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

type streamEnsurer interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Config holds configuration for the NATS sink.
type Config struct {
	Subject   string
	JetStream bool
	Stream    string
	Codec     string
	URL       string
	Token     string
	User      string
	Password  string
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject is required")
	}
	if strings.ContainsAny(c.Subject, " \t\r\n*>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject must be a literal subject without wildcards")
	}
	if c.Stream != "" && !c.JetStream {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "stream requires jetstream")
	}
	if c.Token != "" && c.User != "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "token and user are exclusive")
	}
	return nil
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := Config{
		Subject:  p.String("subject", ""),
		Stream:   p.String("stream", ""),
		Codec:    p.String("codec", codec.JSON),
		URL:      p.String("url", ""),
		Token:    p.String("token", ""),
		User:     p.String("user", ""),
		Password: p.String("password", ""),
	}
	var err error
	if cfg.JetStream, err = p.Bool("jetstream", false); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink publishes each payload as one NATS message.
type Sink struct {
	config Config
	codec  codec.Codec
	pub    Publisher
	owned  *natsclient.Client
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error

	published int64
	errors    int64
}

// NewSink creates an unconfigured sink.
func NewSink() *Sink {
	return &Sink{}
}

// NewSinkWithPublisher creates a sink that publishes through pub instead
// of a NATS client.
func NewSinkWithPublisher(pub Publisher) *Sink {
	return &Sink{pub: pub}
}

// Configure implements sink.Configurable. It uses the shared client from
// deps unless the template names its own url.
func (s *Sink) Configure(ctx context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return err
	}
	s.config = cfg
	s.codec = c
	s.logger = deps.GetLoggerWithComponent("nats-sink").With("subject", cfg.Subject)

	switch {
	case s.pub != nil:
	case cfg.URL != "":
		client, err := s.dial(ctx, cfg, deps)
		if err != nil {
			return err
		}
		s.owned = client
		s.pub = client
	case deps.NATSClient != nil:
		s.pub = deps.NATSClient
	default:
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSSink", "Configure",
			"url is required without a shared NATS client")
	}

	if cfg.Stream != "" {
		if se, ok := s.pub.(streamEnsurer); ok {
			_, err := se.EnsureStream(ctx, jetstream.StreamConfig{
				Name:     cfg.Stream,
				Subjects: []string{cfg.Subject},
			})
			if err != nil {
				s.closeOwned(ctx)
				return err
			}
		}
	}

	s.logger.Info("NATS sink configured",
		"jetstream", cfg.JetStream,
		"stream", cfg.Stream,
		"codec", c.Name(),
		"shared_client", s.owned == nil)
	return nil
}

func (s *Sink) dial(ctx context.Context, cfg Config, deps component.Dependencies) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(deps.GetLogger()),
		natsclient.WithName("orchd-nats-sink"),
		natsclient.WithMetrics(deps.MetricsRegistry),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.User != "":
		opts = append(opts, natsclient.WithCredentials(cfg.User, cfg.Password))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	err = retry.Do(ctx, retry.Quick(), func() error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		_ = client.Close(ctx)
		return nil, errors.WrapTransient(err, "NATSSink", "Configure", "connect to "+cfg.URL)
	}
	return client, nil
}

// Accept encodes data and publishes it.
func (s *Sink) Accept(ctx context.Context, data any) error {
	if s.codec == nil || s.pub == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "NATSSink", "Accept", "check publisher")
	}
	payload, err := codec.EncodePayload(s.codec, data)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return err
	}

	if s.config.JetStream {
		err = s.pub.PublishToStream(ctx, s.config.Subject, payload)
	} else {
		err = s.pub.Publish(ctx, s.config.Subject, payload)
	}
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return err
	}
	atomic.AddInt64(&s.published, 1)
	return nil
}

// Close closes the client the sink dialled itself. A shared client is
// left open.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeOwned(ctx)
	})
	return s.closeErr
}

func (s *Sink) closeOwned(ctx context.Context) error {
	if s.owned == nil {
		return nil
	}
	err := s.owned.Close(ctx)
	s.owned = nil
	return err
}

// Stats returns published and failed counts.
func (s *Sink) Stats() (published, failed int64) {
	return atomic.LoadInt64(&s.published), atomic.LoadInt64(&s.errors)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.NATSSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"subject":   "orchd.output.alerts",
			"jetstream": "false",
			"codec":     "json",
		},
	}
}

// Register registers the NATS sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "Publishes output to a NATS subject or JetStream stream",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
