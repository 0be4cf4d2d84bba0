package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/orchd/bus"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/health"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/worker"
	"github.com/c360/orchd/reaction"
	"github.com/c360/orchd/sensor"
)

const (
	defaultPoolStopTimeout = 5 * time.Second
	dispatchMetricsPrefix  = "orchd_dispatch"
)

// Engine owns the reactions and sensors of one process and the bus that
// connects them.
type Engine struct {
	bus      *bus.Bus
	registry *component.Registry
	deps     component.Dependencies
	logger   *slog.Logger
	metrics  *engineMetrics
	started  time.Time

	workers   int
	queueSize int
	pool      *worker.Pool[reaction.Delivery]
	poolStop  context.CancelFunc

	// ops serialises mutations; mu guards the maps.
	ops sync.Mutex
	mu  sync.RWMutex

	reactions     map[string]*reaction.Reaction
	reactionOrder []string
	reactionIndex map[string]string // template id -> runtime id

	sensors     map[string]*sensor.Sensor
	sensorOrder []string
	sensorIndex map[string]string

	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the bus reactions subscribe to and local communicators
// publish on. Defaults to a new bus named "engine".
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithRegistry sets the registry used to resolve handlers, sinks, probes
// and communicators. Defaults to component.DefaultRegistry().
func WithRegistry(r *component.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithDependencies sets the dependencies handed to every component.
// deps.Bus is used as the engine bus unless WithBus is given.
func WithDependencies(deps component.Dependencies) Option {
	return func(e *Engine) { e.deps = deps }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.deps.Logger = logger }
}

// WithMetricsRegistry sets the metrics registry.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(e *Engine) { e.deps.MetricsRegistry = r }
}

// WithDispatch delivers reaction output through a shared pool of workers
// with a bounded queue. Zero workers keeps one goroutine per delivery.
func WithDispatch(workers, queueSize int) Option {
	return func(e *Engine) {
		e.workers = workers
		e.queueSize = queueSize
	}
}

// New creates an engine. A dispatch pool, when configured, is started
// immediately and stopped by Close.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		started:       time.Now(),
		reactions:     make(map[string]*reaction.Reaction),
		reactionIndex: make(map[string]string),
		sensors:       make(map[string]*sensor.Sensor),
		sensorIndex:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = component.DefaultRegistry()
	}
	e.logger = e.deps.GetLoggerWithComponent("engine")
	if e.bus == nil {
		e.bus = e.deps.Bus
	}
	if e.bus == nil {
		e.bus = bus.New(bus.WithName("engine"), bus.WithLogger(e.deps.GetLogger()),
			bus.WithMetrics(e.deps.MetricsRegistry))
	}
	e.deps.Bus = e.bus

	metrics, err := newEngineMetrics(e.deps.MetricsRegistry)
	if err != nil {
		e.logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil
	}
	e.metrics = metrics

	if e.workers > 0 {
		if e.queueSize <= 0 {
			e.queueSize = e.workers * 100
		}
		pool := worker.NewPool(e.workers, e.queueSize, reaction.RunDelivery,
			worker.WithMetricsRegistry[reaction.Delivery](e.deps.MetricsRegistry, dispatchMetricsPrefix),
			worker.WithPanicHandler(func(d reaction.Delivery, recovered any) {
				e.logger.Error("Delivery panicked", "sink_id", d.Sink.ID(), "event_id", d.EventID, "panic", recovered)
			}))
		ctx, cancel := context.WithCancel(context.Background())
		if err := pool.Start(ctx); err != nil {
			cancel()
			return nil, errors.WrapFatal(err, "Engine", "New", "start dispatch pool")
		}
		e.pool = pool
		e.poolStop = cancel
	}

	e.logger.Debug("Engine created", "bus", e.bus.Name(), "dispatch_workers", e.workers)
	return e, nil
}

// Bus returns the engine bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Registry returns the registry used to resolve components.
func (e *Engine) Registry() *component.Registry { return e.registry }

func notFound(kind, id, method string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s %q", errors.ErrNotFound, kind, id), "Engine", method, "look up "+kind)
}

func (e *Engine) checkOpen(method string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Engine", method, "check engine state")
	}
	return nil
}

func (e *Engine) reactionOptions() []reaction.Option {
	opts := []reaction.Option{
		reaction.WithRegistry(e.registry),
		reaction.WithDependencies(e.deps),
	}
	if e.pool != nil {
		opts = append(opts, reaction.WithWorkerPool(e.pool))
	}
	return opts
}

// lookupReaction accepts a runtime id or a template id.
func (e *Engine) lookupReaction(id string) (*reaction.Reaction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.reactions[id]; ok {
		return r, true
	}
	if rid, ok := e.reactionIndex[id]; ok {
		return e.reactions[rid], true
	}
	return nil, false
}

func (e *Engine) lookupSensor(id string) (*sensor.Sensor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.sensors[id]; ok {
		return s, true
	}
	if sid, ok := e.sensorIndex[id]; ok {
		return e.sensors[sid], true
	}
	return nil, false
}

// newReaction builds and initializes a reaction without registering it.
func (e *Engine) newReaction(ctx context.Context, tmpl model.ReactionTemplate) (*reaction.Reaction, error) {
	r := reaction.New(tmpl, e.reactionOptions()...)
	if err := r.Init(ctx); err != nil {
		if cerr := r.Close(ctx); cerr != nil {
			e.logger.Warn("Failed to release reaction after init failure", "reaction_id", r.ID(), "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (e *Engine) putReaction(r *reaction.Reaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reactions[r.ID()] = r
	e.reactionOrder = append(e.reactionOrder, r.ID())
	e.reactionIndex[r.Template().ID] = r.ID()
	e.metrics.setReactions(len(e.reactions))
}

func (e *Engine) dropReaction(r *reaction.Reaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reactions, r.ID())
	delete(e.reactionIndex, r.Template().ID)
	e.reactionOrder = removeID(e.reactionOrder, r.ID())
	e.metrics.setReactions(len(e.reactions))
}

// AddReaction creates a reaction from tmpl, provisions its handler and
// sinks, and activates it on the engine bus when tmpl.Active is set. An
// empty template id is replaced by a fresh UUID; a template id already in
// use is rejected.
func (e *Engine) AddReaction(ctx context.Context, tmpl model.ReactionTemplate) (info model.ReactionInfo, err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("reaction", "add", err, time.Since(start)) }()

	if err := e.checkOpen("AddReaction"); err != nil {
		return model.ReactionInfo{}, err
	}
	if err := tmpl.Validate(); err != nil {
		return model.ReactionInfo{}, errors.WrapInvalid(err, "Engine", "AddReaction", "validate template")
	}
	tmpl = tmpl.Clone()
	tmpl.ID = model.EnsureID(tmpl.ID)

	e.ops.Lock()
	defer e.ops.Unlock()

	if _, ok := e.lookupReaction(tmpl.ID); ok {
		return model.ReactionInfo{}, errors.WrapInvalid(
			fmt.Errorf("%w: reaction %q", errors.ErrDuplicate, tmpl.ID), "Engine", "AddReaction", "register reaction")
	}

	r, err := e.newReaction(ctx, tmpl)
	if err != nil {
		return model.ReactionInfo{}, err
	}
	if tmpl.Active {
		if err := r.Activate(e.bus); err != nil {
			_ = r.Close(ctx)
			return model.ReactionInfo{}, err
		}
	}
	e.putReaction(r)

	e.logger.Info("Reaction added", "reaction_id", r.ID(), "template", tmpl.Name, "active", tmpl.Active)
	return r.Status(), nil
}

// ReplaceReaction installs tmpl in place of the reaction with the same
// template id, or adds it when none exists. The new reaction is fully
// provisioned before the old one is closed; if provisioning fails the old
// reaction keeps running.
func (e *Engine) ReplaceReaction(ctx context.Context, tmpl model.ReactionTemplate) (info model.ReactionInfo, err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("reaction", "replace", err, time.Since(start)) }()

	if err := e.checkOpen("ReplaceReaction"); err != nil {
		return model.ReactionInfo{}, err
	}
	if tmpl.ID == "" {
		return model.ReactionInfo{}, errors.WrapInvalid(
			fmt.Errorf("%w: template id", errors.ErrMissingConfig), "Engine", "ReplaceReaction", "validate template")
	}
	if err := tmpl.Validate(); err != nil {
		return model.ReactionInfo{}, errors.WrapInvalid(err, "Engine", "ReplaceReaction", "validate template")
	}
	tmpl = tmpl.Clone()

	e.ops.Lock()
	defer e.ops.Unlock()

	next, err := e.newReaction(ctx, tmpl)
	if err != nil {
		return model.ReactionInfo{}, err
	}

	if old, ok := e.lookupReaction(tmpl.ID); ok {
		e.dropReaction(old)
		if err := old.Close(ctx); err != nil {
			e.logger.Warn("Replaced reaction closed with errors", "reaction_id", old.ID(), "error", err)
		}
	}
	if tmpl.Active {
		if err := next.Activate(e.bus); err != nil {
			_ = next.Close(ctx)
			return model.ReactionInfo{}, err
		}
	}
	e.putReaction(next)

	e.logger.Info("Reaction replaced", "reaction_id", next.ID(), "template", tmpl.Name)
	return next.Status(), nil
}

// StartReaction subscribes a READY or STOPPED reaction to the engine bus.
func (e *Engine) StartReaction(_ context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("reaction", "start", err, time.Since(start)) }()

	if err := e.checkOpen("StartReaction"); err != nil {
		return err
	}
	r, ok := e.lookupReaction(id)
	if !ok {
		return notFound("reaction", id, "StartReaction")
	}
	return r.Activate(e.bus)
}

// StopReaction unsubscribes a running reaction. Its sinks stay open.
func (e *Engine) StopReaction(_ context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("reaction", "stop", err, time.Since(start)) }()

	r, ok := e.lookupReaction(id)
	if !ok {
		return notFound("reaction", id, "StopReaction")
	}
	return r.Stop()
}

// RemoveReaction closes a reaction and forgets it.
func (e *Engine) RemoveReaction(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("reaction", "remove", err, time.Since(start)) }()

	e.ops.Lock()
	defer e.ops.Unlock()

	r, ok := e.lookupReaction(id)
	if !ok {
		return notFound("reaction", id, "RemoveReaction")
	}
	e.dropReaction(r)
	e.logger.Info("Reaction removed", "reaction_id", r.ID())
	return r.Close(ctx)
}

// AddSink provisions one more sink on a reaction.
func (e *Engine) AddSink(ctx context.Context, reactionID string, tmpl model.SinkTemplate) (model.SinkInfo, error) {
	r, ok := e.lookupReaction(reactionID)
	if !ok {
		return model.SinkInfo{}, notFound("reaction", reactionID, "AddSink")
	}
	inst, err := r.AddSink(ctx, tmpl)
	if err != nil {
		return model.SinkInfo{}, err
	}
	return inst.Info(), nil
}

// RemoveSink closes and removes one sink of a reaction.
func (e *Engine) RemoveSink(ctx context.Context, reactionID, sinkID string) error {
	r, ok := e.lookupReaction(reactionID)
	if !ok {
		return notFound("reaction", reactionID, "RemoveSink")
	}
	return r.RemoveSink(ctx, sinkID)
}

// Reaction returns a snapshot of one reaction.
func (e *Engine) Reaction(id string) (model.ReactionInfo, error) {
	r, ok := e.lookupReaction(id)
	if !ok {
		return model.ReactionInfo{}, notFound("reaction", id, "Reaction")
	}
	return r.Status(), nil
}

// Reactions returns snapshots of every reaction in the order added.
func (e *Engine) Reactions() []model.ReactionInfo {
	e.mu.RLock()
	list := make([]*reaction.Reaction, 0, len(e.reactionOrder))
	for _, id := range e.reactionOrder {
		list = append(list, e.reactions[id])
	}
	e.mu.RUnlock()

	infos := make([]model.ReactionInfo, len(list))
	for i, r := range list {
		infos[i] = r.Status()
	}
	return infos
}

func (e *Engine) newSensor(ctx context.Context, tmpl model.SensorTemplate) (*sensor.Sensor, error) {
	return sensor.FromTemplate(ctx, e.registry, tmpl, e.deps)
}

func (e *Engine) putSensor(s *sensor.Sensor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sensors[s.ID()] = s
	e.sensorOrder = append(e.sensorOrder, s.ID())
	e.sensorIndex[s.Template().ID] = s.ID()
	e.metrics.setSensors(len(e.sensors))
}

func (e *Engine) dropSensor(s *sensor.Sensor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sensors, s.ID())
	delete(e.sensorIndex, s.Template().ID)
	e.sensorOrder = removeID(e.sensorOrder, s.ID())
	e.metrics.setSensors(len(e.sensors))
}

// AddSensor resolves and configures a sensor from tmpl. The sensor is
// READY; StartSensor launches its sampling loop.
func (e *Engine) AddSensor(ctx context.Context, tmpl model.SensorTemplate) (info model.SensorInfo, err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("sensor", "add", err, time.Since(start)) }()

	if err := e.checkOpen("AddSensor"); err != nil {
		return model.SensorInfo{}, err
	}
	tmpl = tmpl.Clone()
	tmpl.ID = model.EnsureID(tmpl.ID)

	e.ops.Lock()
	defer e.ops.Unlock()

	if _, ok := e.lookupSensor(tmpl.ID); ok {
		return model.SensorInfo{}, errors.WrapInvalid(
			fmt.Errorf("%w: sensor %q", errors.ErrDuplicate, tmpl.ID), "Engine", "AddSensor", "register sensor")
	}
	s, err := e.newSensor(ctx, tmpl)
	if err != nil {
		return model.SensorInfo{}, err
	}
	e.putSensor(s)

	e.logger.Info("Sensor added", "sensor_id", s.ID(), "template", tmpl.Name)
	return s.Status(), nil
}

// ReplaceSensor installs tmpl in place of the sensor with the same
// template id, or adds it when none exists, and starts it.
func (e *Engine) ReplaceSensor(ctx context.Context, tmpl model.SensorTemplate) (info model.SensorInfo, err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("sensor", "replace", err, time.Since(start)) }()

	if err := e.checkOpen("ReplaceSensor"); err != nil {
		return model.SensorInfo{}, err
	}
	if tmpl.ID == "" {
		return model.SensorInfo{}, errors.WrapInvalid(
			fmt.Errorf("%w: template id", errors.ErrMissingConfig), "Engine", "ReplaceSensor", "validate template")
	}
	tmpl = tmpl.Clone()

	e.ops.Lock()
	defer e.ops.Unlock()

	next, err := e.newSensor(ctx, tmpl)
	if err != nil {
		return model.SensorInfo{}, err
	}
	if old, ok := e.lookupSensor(tmpl.ID); ok {
		e.dropSensor(old)
		if err := old.Close(ctx); err != nil {
			e.logger.Warn("Replaced sensor closed with errors", "sensor_id", old.ID(), "error", err)
		}
	}
	e.putSensor(next)
	if err := next.Start(ctx); err != nil {
		return next.Status(), err
	}

	e.logger.Info("Sensor replaced", "sensor_id", next.ID(), "template", tmpl.Name)
	return next.Status(), nil
}

// StartSensor starts the sampling loop of a READY or STOPPED sensor.
func (e *Engine) StartSensor(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("sensor", "start", err, time.Since(start)) }()

	if err := e.checkOpen("StartSensor"); err != nil {
		return err
	}
	s, ok := e.lookupSensor(id)
	if !ok {
		return notFound("sensor", id, "StartSensor")
	}
	return s.Start(ctx)
}

// StopSensor stops a sensor and waits for its loop to exit.
func (e *Engine) StopSensor(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("sensor", "stop", err, time.Since(start)) }()

	s, ok := e.lookupSensor(id)
	if !ok {
		return notFound("sensor", id, "StopSensor")
	}
	return s.Stop(ctx)
}

// RemoveSensor closes a sensor and forgets it.
func (e *Engine) RemoveSensor(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.metrics.recordOperation("sensor", "remove", err, time.Since(start)) }()

	e.ops.Lock()
	defer e.ops.Unlock()

	s, ok := e.lookupSensor(id)
	if !ok {
		return notFound("sensor", id, "RemoveSensor")
	}
	e.dropSensor(s)
	e.logger.Info("Sensor removed", "sensor_id", s.ID())
	return s.Close(ctx)
}

// Sensor returns a snapshot of one sensor.
func (e *Engine) Sensor(id string) (model.SensorInfo, error) {
	s, ok := e.lookupSensor(id)
	if !ok {
		return model.SensorInfo{}, notFound("sensor", id, "Sensor")
	}
	return s.Status(), nil
}

// Sensors returns snapshots of every sensor in the order added.
func (e *Engine) Sensors() []model.SensorInfo {
	e.mu.RLock()
	list := make([]*sensor.Sensor, 0, len(e.sensorOrder))
	for _, id := range e.sensorOrder {
		list = append(list, e.sensors[id])
	}
	e.mu.RUnlock()

	infos := make([]model.SensorInfo, len(list))
	for i, s := range list {
		infos[i] = s.Status()
	}
	return infos
}

// Load adds every reaction, then adds and starts every sensor. It keeps
// going after a failure and returns all failures joined.
func (e *Engine) Load(ctx context.Context, reactions []model.ReactionTemplate, sensors []model.SensorTemplate) error {
	var errs []error
	for _, tmpl := range reactions {
		if _, err := e.AddReaction(ctx, tmpl); err != nil {
			errs = append(errs, fmt.Errorf("reaction %s: %w", tmpl.Name, err))
		}
	}
	for _, tmpl := range sensors {
		info, err := e.AddSensor(ctx, tmpl)
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor %s: %w", tmpl.Name, err))
			continue
		}
		if err := e.StartSensor(ctx, info.ID); err != nil {
			errs = append(errs, fmt.Errorf("sensor %s: %w", tmpl.Name, err))
		}
	}
	return stderrors.Join(errs...)
}

// Emit publishes an event on the engine bus and returns it.
func (e *Engine) Emit(ctx context.Context, name string, data map[string]any) (model.Event, error) {
	if err := e.checkOpen("Emit"); err != nil {
		return model.Event{}, err
	}
	ev, err := model.NewEvent(name, data)
	if err != nil {
		return model.Event{}, errors.WrapInvalid(err, "Engine", "Emit", "create event")
	}
	e.bus.Publish(ctx, ev)
	return ev, nil
}

// Health aggregates the state of every reaction and sensor. A reaction in
// ERROR or a sensor stopped by a failure is unhealthy; a disconnected NATS
// client degrades the engine.
func (e *Engine) Health() health.Status {
	reactions := e.Reactions()
	sensors := e.Sensors()
	subs := make([]health.Status, 0, len(reactions)+len(sensors)+1)

	var handled, failures int64
	for _, r := range reactions {
		handled += r.Handled
		failures += r.Failed
		name := "reaction:" + r.Template.Name
		switch r.State {
		case reaction.Error.String():
			subs = append(subs, health.NewUnhealthy(name, r.LastError))
		default:
			subs = append(subs, health.NewHealthy(name, stateMessage(r.State)))
		}
	}
	for _, s := range sensors {
		handled += s.EventsForwarded
		failures += s.EventsDiscarded
		name := "sensor:" + s.Template.Name
		switch {
		case s.State == sensor.Stopped.String() && s.LastError != "":
			subs = append(subs, health.NewUnhealthy(name, s.LastError))
		case s.EventsDiscarded > 0 && s.LastError != "":
			subs = append(subs, health.NewDegraded(name, s.LastError))
		default:
			subs = append(subs, health.NewHealthy(name, stateMessage(s.State)))
		}
	}
	if e.pool != nil {
		st := e.pool.Stats()
		if st.Dropped > 0 || st.Panicked > 0 {
			subs = append(subs, health.NewDegraded("dispatch",
				fmt.Sprintf("%d deliveries dropped, %d panicked", st.Dropped, st.Panicked)))
		} else {
			subs = append(subs, health.NewHealthy("dispatch",
				fmt.Sprintf("%d of %d queued", st.QueueDepth, st.QueueSize)))
		}
	}
	if nc := e.deps.NATSClient; nc != nil {
		if nc.IsHealthy() {
			subs = append(subs, health.NewHealthy("nats", "connected"))
		} else {
			subs = append(subs, health.NewDegraded("nats", "NATS "+nc.Status().String()))
		}
	}

	status := health.Aggregate("engine", subs)
	if e.isClosed() {
		status = health.NewUnhealthy("engine", "engine closed")
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:          time.Since(e.started),
		ErrorCount:      failures,
		EventsProcessed: handled,
		LastActivity:    time.Now(),
	})
}

func stateMessage(state string) string {
	return strings.ToLower(state)
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close stops every sensor concurrently, then closes every reaction and
// the dispatch pool. It is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sensors := make([]*sensor.Sensor, 0, len(e.sensorOrder))
	for _, id := range e.sensorOrder {
		sensors = append(sensors, e.sensors[id])
	}
	reactions := make([]*reaction.Reaction, 0, len(e.reactionOrder))
	for _, id := range e.reactionOrder {
		reactions = append(reactions, e.reactions[id])
	}
	e.mu.Unlock()

	var errs []error

	var g errgroup.Group
	for _, s := range sensors {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				e.logger.Warn("Sensor closed with errors", "sensor_id", s.ID(), "error", err)
				return fmt.Errorf("sensor %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	for _, r := range reactions {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reaction %s: %w", r.ID(), err))
		}
	}

	if e.pool != nil {
		timeout := defaultPoolStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := e.pool.Stop(timeout); err != nil {
			errs = append(errs, errors.WrapTransient(err, "Engine", "Close", "stop dispatch pool"))
		}
		e.poolStop()
	}

	e.mu.Lock()
	clear(e.sensors)
	clear(e.sensorIndex)
	e.sensorOrder = nil
	clear(e.reactions)
	clear(e.reactionIndex)
	e.reactionOrder = nil
	e.mu.Unlock()
	e.metrics.setReactions(0)
	e.metrics.setSensors(0)

	e.logger.Info("Engine closed", "sensors", len(sensors), "reactions", len(reactions))
	return stderrors.Join(errs...)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
