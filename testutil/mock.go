package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/sensor"
)

// ErrInjected is the default error returned by stubs told to fail.
var ErrInjected = errors.New("injected failure")

// RecordingSink is a sink that stores everything it accepts.
// Thread-safe for concurrent use.
type RecordingSink struct {
	mu       sync.Mutex
	accepted []any
	template model.SinkTemplate

	// AcceptErr is returned by Accept after the data is recorded.
	AcceptErr error
	// ConfigureErr is returned by Configure.
	ConfigureErr error

	closeCalls atomic.Int32
	received   chan struct{}
}

// NewRecordingSink creates a recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{received: make(chan struct{}, 1024)}
}

// Configure records the template.
func (s *RecordingSink) Configure(_ context.Context, tmpl model.SinkTemplate, _ component.Dependencies) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.template = tmpl
	return s.ConfigureErr
}

// Accept stores data.
func (s *RecordingSink) Accept(_ context.Context, data any) error {
	s.mu.Lock()
	s.accepted = append(s.accepted, data)
	s.mu.Unlock()

	select {
	case s.received <- struct{}{}:
	default:
	}
	return s.AcceptErr
}

// Close counts close calls.
func (s *RecordingSink) Close(context.Context) error {
	s.closeCalls.Add(1)
	return nil
}

// Accepted returns a copy of everything accepted so far.
func (s *RecordingSink) Accepted() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.accepted))
	copy(out, s.accepted)
	return out
}

// Template returns the template passed to Configure.
func (s *RecordingSink) Template() model.SinkTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template
}

// CloseCalls returns how many times Close was called.
func (s *RecordingSink) CloseCalls() int { return int(s.closeCalls.Load()) }

// Received signals once per accepted value, up to the buffer size.
func (s *RecordingSink) Received() <-chan struct{} { return s.received }

// StubHandler is a reaction handler with a configurable result.
type StubHandler struct {
	mu     sync.Mutex
	events []model.Event

	// HandleFunc, when set, computes the result. Otherwise the event data
	// is returned.
	HandleFunc func(ctx context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error)
}

// Handle records the event and returns the configured result.
func (h *StubHandler) Handle(ctx context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error) {
	h.mu.Lock()
	h.events = append(h.events, e)
	fn := h.HandleFunc
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx, e, tmpl)
	}
	return e.Data(), nil
}

// Events returns the events handled so far.
func (h *StubHandler) Events() []model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Event, len(h.events))
	copy(out, h.events)
	return out
}

// StubProbe emits one event per Sense call.
type StubProbe struct {
	// EventName is the emitted event name, default io.orchd.events.test.Stub.
	EventName string
	// SenseErr, when set, is returned instead of emitting.
	SenseErr error

	calls  atomic.Int64
	closed atomic.Bool
}

// Sense emits a single event carrying the call number.
func (p *StubProbe) Sense(ctx context.Context, emit sensor.Emitter) error {
	n := p.calls.Add(1)
	if p.SenseErr != nil {
		return p.SenseErr
	}
	name := p.EventName
	if name == "" {
		name = "io.orchd.events.test.Stub"
	}
	e, err := model.NewEvent(name, map[string]any{"seq": n})
	if err != nil {
		return err
	}
	return emit.Emit(ctx, e)
}

// Close marks the probe closed.
func (p *StubProbe) Close(context.Context) error {
	p.closed.Store(true)
	return nil
}

// Calls returns how many times Sense ran.
func (p *StubProbe) Calls() int64 { return p.calls.Load() }

// Closed reports whether Close was called.
func (p *StubProbe) Closed() bool { return p.closed.Load() }

// RecordingCommunicator stores emitted events instead of forwarding them.
type RecordingCommunicator struct {
	mu     sync.Mutex
	events []model.Event

	// AuthErr is returned by Authenticate.
	AuthErr error
	// EmitErr is returned by EmitEvent; the event is not recorded.
	EmitErr error

	authCalls  atomic.Int32
	closeCalls atomic.Int32
}

// ID returns a fixed id.
func (c *RecordingCommunicator) ID() string { return "recording-communicator" }

// EmitEvent records e.
func (c *RecordingCommunicator) EmitEvent(_ context.Context, e model.Event) error {
	if c.EmitErr != nil {
		return c.EmitErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// Authenticate counts calls and returns AuthErr.
func (c *RecordingCommunicator) Authenticate(context.Context) error {
	c.authCalls.Add(1)
	return c.AuthErr
}

// Close counts calls.
func (c *RecordingCommunicator) Close(context.Context) error {
	c.closeCalls.Add(1)
	return nil
}

// Events returns the recorded events.
func (c *RecordingCommunicator) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Event, len(c.events))
	copy(out, c.events)
	return out
}

// AuthCalls returns how many times Authenticate was called.
func (c *RecordingCommunicator) AuthCalls() int { return int(c.authCalls.Load()) }

// CloseCalls returns how many times Close was called.
func (c *RecordingCommunicator) CloseCalls() int { return int(c.closeCalls.Load()) }

// MustRegister registers factory under typeRef or fails the test.
func MustRegister(t testing.TB, registry *component.Registry, typeRef string, kind component.Kind, factory func() any) {
	t.Helper()
	err := registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef: typeRef,
		Kind:    kind,
		Factory: factory,
	})
	if err != nil {
		t.Fatalf("register %s: %v", typeRef, err)
	}
}
