// Package sensor runs probes in a sampling loop and forwards the events
// they produce through a Communicator.
package sensor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
)

// Emitter forwards events produced by a probe.
type Emitter interface {
	Emit(ctx context.Context, e model.Event) error
}

// Probe is the sensing logic of one sensor kind. Sense is called in a loop
// while the sensor runs and emits zero or more events per call.
type Probe interface {
	Sense(ctx context.Context, emit Emitter) error
}

// ConfigurableProbe is implemented by probes that read their template.
type ConfigurableProbe interface {
	Configure(ctx context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error
}

// Communicator carries events from a sensor to a bus.
type Communicator interface {
	ID() string
	EmitEvent(ctx context.Context, e model.Event) error
	Authenticate(ctx context.Context) error
	Close(ctx context.Context) error
}

// ConfigurableCommunicator is implemented by communicators that read the
// sensor template.
type ConfigurableCommunicator interface {
	Configure(ctx context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error
}

type closer interface {
	Close(ctx context.Context) error
}

// State is the lifecycle state of a sensor.
type State int

// Sensor states. A stopped sensor can be started again.
const (
	Ready State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ErrorPolicy decides what the sampling loop does after a failed Sense.
type ErrorPolicy int

const (
	// ErrorPolicyContinue counts the failure and samples again after the
	// interval.
	ErrorPolicyContinue ErrorPolicy = iota
	// ErrorPolicyAbort stops the loop and leaves the sensor STOPPED.
	ErrorPolicyAbort
)

func (p ErrorPolicy) String() string {
	if p == ErrorPolicyAbort {
		return "abort"
	}
	return "continue"
}

// ParseErrorPolicy parses the on_error template parameter.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return ErrorPolicyContinue, nil
	case "abort":
		return ErrorPolicyAbort, nil
	default:
		return ErrorPolicyContinue, errors.WrapInvalid(
			fmt.Errorf("%w: on_error %q", errors.ErrInvalidConfig, s),
			"sensor", "ParseErrorPolicy", "parse error policy")
	}
}

// Sensor samples a probe periodically.
type Sensor struct {
	id       string
	template model.SensorTemplate
	probe    Probe
	comm     Communicator
	policy   ErrorPolicy
	deps     component.Dependencies
	logger   *slog.Logger
	metrics  *metric.Metrics

	lifecycle sync.Mutex

	mu            sync.Mutex
	state         State
	authenticated bool
	closed        bool
	stopCh        chan struct{}
	done          chan struct{}
	lastErr       string

	sampled   atomic.Int64
	forwarded atomic.Int64
	discarded atomic.Int64
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithErrorPolicy overrides the policy read from the template.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Sensor) { s.policy = p }
}

// WithDependencies sets the logger and metrics registry.
func WithDependencies(deps component.Dependencies) Option {
	return func(s *Sensor) { s.deps = deps }
}

// New creates a READY sensor. The error policy defaults to the on_error
// template parameter; an unparsable value falls back to continue.
func New(tmpl model.SensorTemplate, probe Probe, comm Communicator, opts ...Option) *Sensor {
	policy, policyErr := ParseErrorPolicy(tmpl.Parameter("on_error", ""))
	s := &Sensor{
		id:       uuid.NewString(),
		template: tmpl.Clone(),
		probe:    probe,
		comm:     comm,
		policy:   policy,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.deps.GetLoggerWithComponent("sensor").With("sensor_id", s.id, "template", tmpl.Name)
	s.metrics = s.deps.CoreMetrics()
	if policyErr != nil {
		s.logger.Warn("Ignoring invalid error policy", "error", policyErr)
	}
	return s
}

// ID returns the sensor id.
func (s *Sensor) ID() string { return s.id }

// Template returns a copy of the sensor template.
func (s *Sensor) Template() model.SensorTemplate { return s.template.Clone() }

// Communicator returns the sensor's communicator.
func (s *Sensor) Communicator() Communicator { return s.comm }

// State returns the current state.
func (s *Sensor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sensor) sensorErr(op string, err error) error {
	return &errors.SensorError{SensorID: s.id, Op: op, Err: err}
}

func (s *Sensor) isEmitErr(err error) bool {
	var se *errors.SensorError
	return stderrors.As(err, &se) && se.Op == "emit" && se.SensorID == s.id
}

// Start authenticates the communicator on first use and launches the
// sampling loop. The loop runs detached from ctx.
func (s *Sensor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	closed, state, authenticated, done := s.closed, s.state, s.authenticated, s.done
	s.mu.Unlock()

	switch {
	case closed:
		return s.sensorErr("start", errors.WrapInvalid(errors.ErrClosed, "Sensor", "Start", "check state"))
	case state == Running:
		return s.sensorErr("start", errors.WrapInvalid(errors.ErrAlreadyStarted, "Sensor", "Start", "check state"))
	}
	if done != nil {
		select {
		case <-done:
		default:
			return s.sensorErr("start", errors.WrapTransient(
				fmt.Errorf("%w: previous sampling loop still running", errors.ErrAlreadyStarted),
				"Sensor", "Start", "check loop"))
		}
	}

	if !authenticated {
		if err := s.comm.Authenticate(ctx); err != nil {
			s.logger.Error("Communicator authentication failed", "communicator_id", s.comm.ID(), "error", err)
			return s.sensorErr("authenticate", err)
		}
	}

	stop := make(chan struct{})
	loopDone := make(chan struct{})
	s.mu.Lock()
	s.authenticated = true
	s.state = Running
	s.stopCh = stop
	s.done = loopDone
	s.mu.Unlock()
	s.metrics.RecordSensorRunning(s.template.Name, true)

	go s.loop(context.WithoutCancel(ctx), stop, loopDone)

	s.logger.Info("Sensor started",
		"interval", s.template.SamplingInterval.String(),
		"error_policy", s.policy.String())
	return nil
}

func (s *Sensor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.template.SamplingInterval.Std()
	emitter := &emitter{s: s}
	var timer *time.Timer

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := s.probe.Sense(ctx, emitter); err != nil {
			// The emitter already counted its own failures.
			if !s.isEmitErr(err) {
				s.discarded.Add(1)
				s.metrics.RecordSensorSample(s.template.Name, "sense_error")
			}
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()

			if s.policy == ErrorPolicyAbort {
				s.logger.Error("Sense failed, stopping sampling loop", "error", err)
				s.mu.Lock()
				if s.stopCh == stop {
					s.state = Stopped
				}
				s.mu.Unlock()
				s.metrics.RecordSensorRunning(s.template.Name, false)
				return
			}
			s.logger.Warn("Sense failed", "error", err)
		}

		if interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// Stop ends the sampling loop and waits for it to exit. A Sense call in
// progress is allowed to finish; the interval wait is interrupted. Stop on
// a sensor that is not running only marks it STOPPED.
func (s *Sensor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked(ctx)
}

func (s *Sensor) stopLocked(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stopCh, s.done
	wasRunning := s.state == Running
	s.state = Stopped
	s.stopCh = nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	if wasRunning {
		s.metrics.RecordSensorRunning(s.template.Name, false)
		s.logger.Info("Sensor stopping")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return s.sensorErr("stop", errors.WrapTransient(ctx.Err(), "Sensor", "Stop", "wait for sampling loop"))
	}
}

// Close stops the sensor and releases the probe and the communicator. It
// is idempotent.
func (s *Sensor) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.stopLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.probe.(closer); ok {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, s.sensorErr("close probe", err))
		}
	}
	if err := s.comm.Close(ctx); err != nil {
		errs = append(errs, s.sensorErr("close communicator", err))
	}
	s.logger.Info("Sensor closed")
	return joinErrors(errs)
}

// Status returns a snapshot of the sensor.
func (s *Sensor) Status() model.SensorInfo {
	s.mu.Lock()
	state, lastErr := s.state, s.lastErr
	s.mu.Unlock()

	return model.SensorInfo{
		ID:              s.id,
		Template:        s.Template(),
		State:           state.String(),
		EventsSampled:   s.sampled.Load(),
		EventsForwarded: s.forwarded.Load(),
		EventsDiscarded: s.discarded.Load(),
		LastError:       lastErr,
	}
}

type emitter struct{ s *Sensor }

func (em *emitter) Emit(ctx context.Context, e model.Event) error {
	s := em.s
	s.sampled.Add(1)
	if err := s.comm.EmitEvent(ctx, e); err != nil {
		s.discarded.Add(1)
		s.metrics.RecordSensorSample(s.template.Name, "discarded")
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.logger.Warn("Event discarded", "event", e.Name(), "event_id", e.ID(), "error", err)
		return s.sensorErr("emit", err)
	}
	s.forwarded.Add(1)
	s.metrics.RecordSensorSample(s.template.Name, "forwarded")
	return nil
}
