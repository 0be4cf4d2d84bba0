// Package natscomm provides the orchd.communicators.NATSCommunicator, which
// carries sensor events to a remote engine over NATS, and the Receiver
// that turns them back into bus events on the engine side.
//
// Every emission is wrapped in an envelope {event, clock, source} where
// clock is the sender's Lamport time. In request/reply mode the receiver
// answers with its own clock and the sender merges it, so causally later
// emissions always carry larger timestamps across hosts.
package natscomm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/natsclient"
	"github.com/c360/orchd/pkg/clock"
	"github.com/c360/orchd/pkg/retry"
)

// CommunicatorType is the type reference of the NATS communicator.
const CommunicatorType = "orchd.communicators.NATSCommunicator"

// DefaultSubject is the subject events are sent on when none is set.
const DefaultSubject = "orchd.events"

// Transport is the subset of natsclient.Client used by the communicator.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Ack is the reply sent by a Receiver in request/reply mode.
type Ack struct {
	Clock uint64 `json:"clock" cbor:"clock"`
}

// Config holds configuration for the NATS communicator.
type Config struct {
	URL            string
	Token          string
	User           string
	Password       string
	Subject        string
	Codec          string
	RequestReply   bool
	RequestTimeout time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if c.Subject == "" || strings.ContainsAny(c.Subject, " \t\r\n*>") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: subject %q", errors.ErrInvalidConfig, c.Subject),
			"Config", "Validate", "check subject")
	}
	if c.Token != "" && c.User != "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "token and user are exclusive")
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check codec")
	}
	if c.RequestTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "request_timeout must be positive")
	}
	return nil
}

// ConfigFromParameters builds a Config from sensor template parameters.
func ConfigFromParameters(params map[string]string) (Config, error) {
	p := component.Params(params)
	cfg := Config{
		URL:      p.String("url", ""),
		Token:    p.String("token", ""),
		User:     p.String("user", ""),
		Password: p.String("password", ""),
		Subject:  p.String("subject", DefaultSubject),
		Codec:    p.String("codec", codec.JSON),
	}
	var err error
	if cfg.RequestReply, err = p.Bool("request_reply", false); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = p.Duration("request_timeout", 5*time.Second); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Communicator sends sensor events to a NATS subject.
type Communicator struct {
	id     string
	config Config
	codec  codec.Codec
	clock  clock.Lamport
	logger *slog.Logger

	newTransport func(Config) (Transport, error)
	retryConfig  retry.Config

	mu            sync.Mutex
	transport     Transport
	authenticated bool
}

// New creates an unconfigured communicator.
func New() *Communicator {
	c := &Communicator{id: uuid.NewString(), retryConfig: retry.Quick()}
	c.newTransport = c.dialTransport
	return c
}

// NewWithTransport creates a communicator that sends through t. Connect is
// still called by Authenticate.
func NewWithTransport(t Transport) *Communicator {
	c := New()
	c.newTransport = func(Config) (Transport, error) { return t, nil }
	return c
}

// Configure implements sensor.ConfigurableCommunicator.
func (c *Communicator) Configure(_ context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromParameters(tmpl.Parameters)
	if err != nil {
		return err
	}
	c.config = cfg
	c.codec, _ = codec.ByName(cfg.Codec)
	c.logger = deps.GetLoggerWithComponent("nats-communicator").With("subject", cfg.Subject, "communicator_id", c.id)

	if c.transport == nil {
		t, err := c.newTransport(cfg)
		if err != nil {
			return err
		}
		c.transport = t
	}
	return nil
}

func (c *Communicator) dialTransport(cfg Config) (Transport, error) {
	opts := []natsclient.ClientOption{natsclient.WithName("orchd-sensor-" + c.id)}
	if c.logger != nil {
		opts = append(opts, natsclient.WithLogger(c.logger))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.User != "":
		opts = append(opts, natsclient.WithCredentials(cfg.User, cfg.Password))
	}
	return natsclient.NewClient(cfg.URL, opts...)
}

// ID implements sensor.Communicator.
func (c *Communicator) ID() string { return c.id }

// Clock returns the current Lamport time.
func (c *Communicator) Clock() uint64 { return c.clock.Time() }

// Authenticate connects to the server with the configured credentials.
func (c *Communicator) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "NATSCommunicator", "Authenticate", "check configuration")
	}
	if c.authenticated {
		return nil
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		err := c.transport.Connect(ctx)
		if errors.IsInvalid(err) || stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSCommunicator", "Authenticate", "connect to "+c.config.URL)
	}
	c.authenticated = true
	c.logger.Info("NATS communicator authenticated", "request_reply", c.config.RequestReply)
	return nil
}

// EmitEvent implements sensor.Communicator.
func (c *Communicator) EmitEvent(ctx context.Context, e model.Event) error {
	c.mu.Lock()
	t, ok := c.transport, c.authenticated
	c.mu.Unlock()
	if !ok {
		return &errors.SensorError{SensorID: c.id, Op: "emit", Err: errors.ErrNotAuthenticated}
	}

	stamp := c.clock.Tick()
	data, err := codec.EncodeEvent(c.codec, e, stamp, c.id)
	if err != nil {
		return err
	}

	if !c.config.RequestReply {
		return t.Publish(ctx, c.config.Subject, data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	reply, err := t.Request(reqCtx, c.config.Subject, data)
	if err != nil {
		return err
	}
	var ack Ack
	if err := c.codec.Unmarshal(reply, &ack); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"NATSCommunicator", "EmitEvent", "decode ack")
	}
	c.clock.Sync(ack.Clock)
	return nil
}

// Close closes the connection. The communicator must authenticate again
// before the next emission.
func (c *Communicator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || !c.authenticated {
		return nil
	}
	c.authenticated = false
	return c.transport.Close(ctx)
}

// Register registers the NATS communicator with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     CommunicatorType,
		Kind:        component.KindCommunicator,
		Factory:     func() any { return New() },
		Description: "Sends sensor events over NATS with Lamport timestamps",
		Version:     "1.0",
	})
}
