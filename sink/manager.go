package sink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// Manager owns a set of sink instances. All structural operations are
// serialised.
type Manager struct {
	registry *component.Registry
	deps     component.Dependencies
	logger   *slog.Logger

	mu    sync.Mutex
	order []string
	sinks map[string]*Instance
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry sets the registry used to resolve sink_class.
func WithRegistry(registry *component.Registry) ManagerOption {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithDependencies sets the dependencies passed to configurable sinks.
func WithDependencies(deps component.Dependencies) ManagerOption {
	return func(m *Manager) { m.deps = deps }
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: component.DefaultRegistry(),
		sinks:    make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.deps.GetLoggerWithComponent("sink-manager")
	return m
}

// provision resolves and configures one sink. The caller holds m.mu.
func (m *Manager) provision(ctx context.Context, tmpl model.SinkTemplate) (*Instance, error) {
	v, err := m.registry.ResolveKind(tmpl.SinkClass, component.KindSink)
	if err != nil {
		return nil, &errors.SinkError{Template: tmpl.Name, Cause: errors.SinkResolutionFailed, Err: err}
	}
	s, ok := v.(Sink)
	if !ok {
		return nil, &errors.SinkError{
			Template: tmpl.Name,
			Cause:    errors.SinkResolutionFailed,
			Err:      fmt.Errorf("%w: %s does not implement Sink (%T)", errors.ErrInvalidConfig, tmpl.SinkClass, v),
		}
	}

	if c, ok := s.(Configurable); ok {
		if err := c.Configure(ctx, tmpl.Clone(), m.deps); err != nil {
			return nil, &errors.SinkError{Template: tmpl.Name, Cause: errors.SinkConfigureFailed, Err: err}
		}
	}

	return NewInstance(tmpl, s, m.deps), nil
}

func (m *Manager) register(inst *Instance) {
	m.sinks[inst.id] = inst
	m.order = append(m.order, inst.id)
}

// AddSink provisions one sink and adds it to the set.
func (m *Manager) AddSink(ctx context.Context, tmpl model.SinkTemplate) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.provision(ctx, tmpl)
	if err != nil {
		m.logger.Error("Sink provisioning failed", "template", tmpl.Name, "sink_class", tmpl.SinkClass, "error", err)
		return nil, err
	}
	m.register(inst)
	m.logger.Info("Sink added", "sink_id", inst.id, "template", tmpl.Name, "sink_class", tmpl.SinkClass)
	return inst, nil
}

// CreateSinks provisions tmpls in order, all or nothing. On the first
// failure every sink created by this call is closed exactly once, the set
// is left as it was and the failure is returned.
func (m *Manager) CreateSinks(ctx context.Context, tmpls []model.SinkTemplate) (map[string]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := make([]*Instance, 0, len(tmpls))
	for _, tmpl := range tmpls {
		inst, err := m.provision(ctx, tmpl)
		if err != nil {
			m.logger.Error("Sink provisioning failed, rolling back",
				"template", tmpl.Name,
				"sink_class", tmpl.SinkClass,
				"rolled_back", len(created),
				"error", err)
			for _, c := range slices.Backward(created) {
				if cerr := c.Close(ctx); cerr != nil {
					m.logger.Warn("Rollback close failed", "sink_id", c.id, "error", cerr)
				}
			}
			return nil, err
		}
		created = append(created, inst)
	}

	result := make(map[string]*Instance, len(created))
	for _, inst := range created {
		m.register(inst)
		result[inst.id] = inst
	}
	m.logger.Info("Sinks created", "count", len(created))
	return result, nil
}

// RemoveSink closes and deregisters a sink. The sink is deregistered even
// when its Close fails.
func (m *Manager) RemoveSink(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.sinks[id]
	if !ok {
		return &errors.SinkError{SinkID: id, Cause: errors.SinkNotFound}
	}
	delete(m.sinks, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })

	m.logger.Info("Sink removed", "sink_id", id)
	return inst.Close(ctx)
}

// GetSinkByID returns a managed sink.
func (m *Manager) GetSinkByID(id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.sinks[id]
	if !ok {
		return nil, &errors.SinkError{SinkID: id, Cause: errors.SinkNotFound}
	}
	return inst, nil
}

// Sinks returns the managed sinks in insertion order.
func (m *Manager) Sinks() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Instance, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sinks[id])
	}
	return out
}

// Len returns the number of managed sinks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Infos returns snapshots of the managed sinks in insertion order.
func (m *Manager) Infos() []model.SinkInfo {
	sinks := m.Sinks()
	out := make([]model.SinkInfo, len(sinks))
	for i, s := range sinks {
		out[i] = s.Info()
	}
	return out
}

// Close closes every sink and empties the set. It is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, id := range m.order {
		if err := m.sinks[id].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(m.order) > 0 {
		m.logger.Debug("Sink manager closed", "sinks", len(m.order))
	}
	m.order = nil
	m.sinks = make(map[string]*Instance)
	return stderrors.Join(errs...)
}
