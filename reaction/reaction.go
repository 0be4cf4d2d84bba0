// Package reaction implements the Reaction state machine: a handler bound
// to a set of sinks and subscribed to a bus.
//
//	UNINITIALIZED -> PROVISIONING -> READY -> RUNNING <-> STOPPED
//	PROVISIONING -> ERROR
//	any state -> FINALIZED (Close)
//
// Init resolves the handler and provisions every sink atomically. Activate
// subscribes to a bus; Stop unsubscribes with the stored handle. Each
// triggering event is handled synchronously on the publisher's goroutine
// and its output is delivered to every sink concurrently. Close waits for
// outstanding deliveries before closing the sinks.
package reaction

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/orchd/bus"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/worker"
	"github.com/c360/orchd/sink"
)

// Reaction binds a handler and its sinks to a bus.
type Reaction struct {
	id       string
	template model.ReactionTemplate
	registry *component.Registry
	deps     component.Dependencies
	logger   *slog.Logger
	metrics  *metric.Metrics
	pool     *worker.Pool[Delivery]
	sinks    *sink.Manager

	// lifecycle serialises Init, Activate, Stop and Close.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	state   State
	handler Handler
	sub     *bus.Subscription
	lastErr string

	inflight sync.WaitGroup
	handled  atomic.Int64
	failed   atomic.Int64
}

// Option configures a Reaction.
type Option func(*Reaction)

// WithRegistry sets the registry used to resolve the handler and sinks.
func WithRegistry(registry *component.Registry) Option {
	return func(r *Reaction) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// WithDependencies sets the dependencies passed to sinks.
func WithDependencies(deps component.Dependencies) Option {
	return func(r *Reaction) { r.deps = deps }
}

// WithHandler uses h instead of resolving the template's handler.
func WithHandler(h Handler) Option {
	return func(r *Reaction) { r.handler = h }
}

// WithWorkerPool delivers output through a shared bounded pool instead of
// one goroutine per sink. A full queue drops the delivery.
func WithWorkerPool(pool *worker.Pool[Delivery]) Option {
	return func(r *Reaction) { r.pool = pool }
}

// New creates an uninitialized reaction with a fresh id.
func New(tmpl model.ReactionTemplate, opts ...Option) *Reaction {
	r := &Reaction{
		id:       uuid.NewString(),
		template: tmpl.Clone(),
		registry: component.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.deps.GetLoggerWithComponent("reaction").With("reaction_id", r.id, "template", tmpl.Name)
	r.metrics = r.deps.CoreMetrics()
	r.sinks = sink.NewManager(sink.WithRegistry(r.registry), sink.WithDependencies(r.deps))
	r.metrics.RecordReactionState(r.id, int(Uninitialized))
	return r
}

// ID returns the reaction id.
func (r *Reaction) ID() string { return r.id }

// Template returns a copy of the reaction template.
func (r *Reaction) Template() model.ReactionTemplate { return r.template.Clone() }

// State returns the current state.
func (r *Reaction) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SinkManager returns the manager owning the reaction's sinks.
func (r *Reaction) SinkManager() *sink.Manager { return r.sinks }

// Sinks returns the current sinks in insertion order.
func (r *Reaction) Sinks() []*sink.Instance { return r.sinks.Sinks() }

func (r *Reaction) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.metrics.RecordReactionState(r.id, int(s))
}

func (r *Reaction) invalidState(op string, s State) error {
	return &errors.ReactionError{
		ReactionID: r.id,
		Cause:      errors.InvalidState,
		Err:        fmt.Errorf("%w: %s in state %s", errors.ErrInvalidState, op, s),
	}
}

func (r *Reaction) fail(cause errors.ReactionCause, err error) error {
	rerr := &errors.ReactionError{ReactionID: r.id, Cause: cause, Err: err}
	r.mu.Lock()
	r.state = Error
	r.lastErr = rerr.Error()
	r.mu.Unlock()
	r.metrics.RecordReactionState(r.id, int(Error))
	r.logger.Error("Reaction initialization failed", "cause", cause.String(), "error", err)
	return rerr
}

// Init resolves the handler and provisions all sinks. On failure the
// reaction moves to ERROR with no sinks held.
func (r *Reaction) Init(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if s := r.State(); s != Uninitialized {
		return r.invalidState("init", s)
	}
	r.setState(Provisioning)

	if err := r.template.Validate(); err != nil {
		return r.fail(errors.InvalidTemplate, err)
	}

	if r.handler == nil {
		v, err := r.registry.ResolveKind(r.template.Handler, component.KindHandler)
		if err != nil {
			return r.fail(errors.HandlerResolutionFailed, err)
		}
		h, ok := v.(Handler)
		if !ok {
			return r.fail(errors.HandlerResolutionFailed,
				fmt.Errorf("%w: %s does not implement Handler (%T)", errors.ErrInvalidConfig, r.template.Handler, v))
		}
		r.mu.Lock()
		r.handler = h
		r.mu.Unlock()
	}

	if _, err := r.sinks.CreateSinks(ctx, r.template.Sinks); err != nil {
		return r.fail(errors.SinkProvisioningFailed, err)
	}

	r.setState(Ready)
	r.logger.Info("Reaction initialized", "handler", r.template.Handler, "sinks", r.sinks.Len())
	return nil
}

// Activate subscribes the reaction to b. Allowed from READY and STOPPED.
func (r *Reaction) Activate(b *bus.Bus) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	s := r.State()
	if s != Ready && s != Stopped {
		return r.invalidState("activate", s)
	}
	if b == nil {
		b = bus.Default()
	}

	sub := b.Register(r)
	r.mu.Lock()
	r.sub = sub
	r.state = Running
	r.mu.Unlock()
	r.metrics.RecordReactionState(r.id, int(Running))

	r.logger.Info("Reaction activated", "bus", b.Name(), "subscription_id", sub.ID())
	return nil
}

// Stop unsubscribes the reaction. Deliveries already scheduled run to
// completion.
func (r *Reaction) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if s := r.State(); s != Running {
		return r.invalidState("stop", s)
	}
	r.unsubscribe(Stopped)
	r.logger.Info("Reaction stopped")
	return nil
}

func (r *Reaction) unsubscribe(next State) {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.state = next
	r.mu.Unlock()
	r.metrics.RecordReactionState(r.id, int(next))
	sub.Unsubscribe()
}

// Close stops the reaction if running, waits for outstanding deliveries and
// closes every sink. It ends in FINALIZED from any state and is
// idempotent. If ctx expires while waiting, the sinks are closed anyway and
// the context error is returned.
func (r *Reaction) Close(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	prev := r.State()
	if prev == Finalized {
		return nil
	}
	r.unsubscribe(Finalized)
	r.metrics.ForgetReaction(r.id)

	var errs []error
	if err := r.waitInflight(ctx); err != nil {
		r.logger.Warn("Closing with deliveries still in flight", "error", err)
		errs = append(errs, errors.WrapTransient(err, "Reaction", "Close", "wait for deliveries"))
	}
	if err := r.sinks.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("Reaction closed", "previous_state", prev.String())
	return stderrors.Join(errs...)
}

func (r *Reaction) waitInflight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEvent implements bus.Subscriber. Events are ignored unless the
// reaction is RUNNING and one of its triggers matches.
func (r *Reaction) OnEvent(ctx context.Context, e model.Event) error {
	r.mu.RLock()
	if r.state != Running {
		r.mu.RUnlock()
		return nil
	}
	handler := r.handler
	r.inflight.Add(1)
	r.mu.RUnlock()
	defer r.inflight.Done()

	if !r.template.Triggers(e.Name()) {
		return nil
	}

	start := time.Now()
	out, err := handler.Handle(ctx, e, r.template.Clone())
	switch {
	case stderrors.Is(err, ErrNoOutput):
		r.handled.Add(1)
		r.metrics.RecordHandlerInvocation(r.template.Handler, "no_output", time.Since(start))
		return nil
	case err != nil:
		r.failed.Add(1)
		r.mu.Lock()
		r.lastErr = err.Error()
		r.mu.Unlock()
		r.metrics.RecordHandlerInvocation(r.template.Handler, "error", time.Since(start))
		r.logger.Error("Handler failed", "event", e.Name(), "event_id", e.ID(), "error", err)
		return errors.Wrap(err, "Reaction", "OnEvent", "handle "+e.Name())
	}

	r.handled.Add(1)
	r.metrics.RecordHandlerInvocation(r.template.Handler, "success", time.Since(start))
	r.fanOut(context.WithoutCancel(ctx), e, out)
	return nil
}

func (r *Reaction) fanOut(ctx context.Context, e model.Event, out any) {
	for _, inst := range r.sinks.Sinks() {
		// A sink removed since the snapshot refuses the reservation.
		if !inst.Reserve() {
			continue
		}
		r.inflight.Add(1)
		d := Delivery{
			Sink:     inst,
			Data:     out,
			EventID:  e.ID(),
			ctx:      ctx,
			done:     r.inflight.Done,
			logger:   r.logger,
			reserved: true,
		}

		if r.pool == nil {
			go func() { _ = d.Run(ctx) }()
			continue
		}
		if err := r.pool.Submit(d); err != nil {
			inst.Release()
			r.inflight.Done()
			r.metrics.RecordSinkDelivery(inst.Template().SinkClass, "dropped", 0)
			r.logger.Warn("Sink delivery dropped", "sink_id", inst.ID(), "event_id", e.ID(), "error", err)
		}
	}
}

// AddSink provisions a sink on a live reaction.
func (r *Reaction) AddSink(ctx context.Context, tmpl model.SinkTemplate) (*sink.Instance, error) {
	if s := r.State(); s.Terminal() {
		return nil, r.invalidState("add sink", s)
	}
	return r.sinks.AddSink(ctx, tmpl)
}

// RemoveSink closes and removes a sink.
func (r *Reaction) RemoveSink(ctx context.Context, id string) error {
	return r.sinks.RemoveSink(ctx, id)
}

// Status returns a snapshot of the reaction.
func (r *Reaction) Status() model.ReactionInfo {
	r.mu.RLock()
	state, lastErr := r.state, r.lastErr
	r.mu.RUnlock()

	return model.ReactionInfo{
		ID:        r.id,
		State:     state.String(),
		Template:  r.Template(),
		Sinks:     r.sinks.Infos(),
		Handled:   r.handled.Load(),
		Failed:    r.failed.Load(),
		LastError: lastErr,
	}
}

// Delivery is one handler output bound for one sink.
type Delivery struct {
	Sink    *sink.Instance
	Data    any
	EventID string

	ctx      context.Context
	done     func()
	logger   *slog.Logger
	reserved bool
}

// Run delivers the output. It ignores the caller's context in favour of
// the detached context captured at fan-out.
func (d Delivery) Run(context.Context) error {
	if d.done != nil {
		defer d.done()
	}
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	deliver := d.Sink.Accept
	if d.reserved {
		defer d.Sink.Release()
		deliver = d.Sink.Deliver
	}
	if err := deliver(ctx, d.Data); err != nil {
		if d.logger != nil {
			d.logger.Warn("Sink delivery failed", "sink_id", d.Sink.ID(), "event_id", d.EventID, "error", err)
		}
		return err
	}
	return nil
}

// RunDelivery is the processor for a worker.Pool[Delivery].
func RunDelivery(ctx context.Context, d Delivery) error {
	return d.Run(ctx)
}
