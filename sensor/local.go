package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/orchd/bus"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/model"
)

// Type references of the built-in sensor kinds and communicators.
const (
	LocalCommunicatorType = "orchd.communicators.LocalCommunicator"
	DummySensorType       = "orchd.sensors.DummySensor"
	DummyEventName        = "io.orchd.events.system.Test"
)

// LocalCommunicator publishes directly into an in-process bus. It needs no
// authentication and holds no resources.
type LocalCommunicator struct {
	id  string
	mu  sync.RWMutex
	bus *bus.Bus
}

// NewLocalCommunicator creates a communicator for b. A nil bus selects the
// process-wide default bus.
func NewLocalCommunicator(b *bus.Bus) *LocalCommunicator {
	if b == nil {
		b = bus.Default()
	}
	return &LocalCommunicator{id: uuid.NewString(), bus: b}
}

// Configure implements ConfigurableCommunicator.
func (c *LocalCommunicator) Configure(_ context.Context, _ model.SensorTemplate, deps component.Dependencies) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.bus = deps.GetBus()
	return nil
}

// Bus returns the target bus.
func (c *LocalCommunicator) Bus() *bus.Bus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bus == nil {
		return bus.Default()
	}
	return c.bus
}

// ID implements Communicator.
func (c *LocalCommunicator) ID() string { return c.id }

// EmitEvent implements Communicator.
func (c *LocalCommunicator) EmitEvent(ctx context.Context, e model.Event) error {
	c.Bus().Publish(ctx, e)
	return nil
}

// Authenticate implements Communicator. It is a no-op.
func (c *LocalCommunicator) Authenticate(context.Context) error { return nil }

// Close implements Communicator. It is a no-op.
func (c *LocalCommunicator) Close(context.Context) error { return nil }

// DummyProbe waits for a delay and emits a test event.
type DummyProbe struct {
	Delay time.Duration
}

// Configure reads the delay parameter (default 1s).
func (p *DummyProbe) Configure(_ context.Context, tmpl model.SensorTemplate, _ component.Dependencies) error {
	d, err := component.Params(tmpl.Parameters).Duration("delay", time.Second)
	if err != nil {
		return err
	}
	p.Delay = d
	return nil
}

// Sense implements Probe.
func (p *DummyProbe) Sense(ctx context.Context, emit Emitter) error {
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	e, err := model.NewEvent(DummyEventName, map[string]any{"dummy": "data"})
	if err != nil {
		return err
	}
	return emit.Emit(ctx, e)
}

// DummyTemplate returns the example template of the dummy sensor.
func DummyTemplate() model.SensorTemplate {
	return model.SensorTemplate{
		Name:         "io.orchd.sensor_template.DummySensor",
		Description:  "A dummy Sensor to be used for testing purposes",
		Version:      "1.0",
		Sensor:       DummySensorType,
		Communicator: LocalCommunicatorType,
		Parameters:   map[string]string{"some": "data"},
	}
}

// Register registers the built-in sensor kinds and communicators.
func Register(registry *component.Registry) error {
	if err := registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     LocalCommunicatorType,
		Kind:        component.KindCommunicator,
		Factory:     func() any { return &LocalCommunicator{} },
		Description: "Publishes events into the in-process bus",
		Version:     "1.0",
	}); err != nil {
		return err
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     DummySensorType,
		Kind:        component.KindSensor,
		Factory:     func() any { return &DummyProbe{Delay: time.Second} },
		Description: "Emits " + DummyEventName + " after a delay",
		Version:     "1.0",
		Template:    DummyTemplate(),
	})
}
