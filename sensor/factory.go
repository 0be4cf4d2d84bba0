package sensor

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// FromTemplate resolves and configures the probe and communicator named by
// tmpl and returns a READY sensor. An empty communicator reference selects
// the LocalCommunicator.
func FromTemplate(ctx context.Context, registry *component.Registry, tmpl model.SensorTemplate,
	deps component.Dependencies, opts ...Option,
) (*Sensor, error) {
	if registry == nil {
		registry = component.DefaultRegistry()
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseErrorPolicy(tmpl.Parameter("on_error", "")); err != nil {
		return nil, err
	}

	v, err := registry.ResolveKind(tmpl.Sensor, component.KindSensor)
	if err != nil {
		return nil, errors.Wrap(err, "sensor", "FromTemplate", "resolve sensor "+tmpl.Sensor)
	}
	probe, ok := v.(Probe)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s does not implement Probe (%T)", errors.ErrInvalidConfig, tmpl.Sensor, v),
			"sensor", "FromTemplate", "resolve sensor")
	}

	commRef := tmpl.Communicator
	if commRef == "" {
		commRef = LocalCommunicatorType
	}
	v, err = registry.ResolveKind(commRef, component.KindCommunicator)
	if err != nil {
		return nil, errors.Wrap(err, "sensor", "FromTemplate", "resolve communicator "+commRef)
	}
	comm, ok := v.(Communicator)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s does not implement Communicator (%T)", errors.ErrInvalidConfig, commRef, v),
			"sensor", "FromTemplate", "resolve communicator")
	}

	if c, ok := probe.(ConfigurableProbe); ok {
		if err := c.Configure(ctx, tmpl.Clone(), deps); err != nil {
			return nil, errors.Wrap(err, "sensor", "FromTemplate", "configure "+tmpl.Sensor)
		}
	}
	if c, ok := comm.(ConfigurableCommunicator); ok {
		if err := c.Configure(ctx, tmpl.Clone(), deps); err != nil {
			if pc, ok := probe.(closer); ok {
				_ = pc.Close(ctx)
			}
			return nil, errors.Wrap(err, "sensor", "FromTemplate", "configure "+commRef)
		}
	}

	return New(tmpl, probe, comm, append([]Option{WithDependencies(deps)}, opts...)...), nil
}

func joinErrors(errs []error) error {
	return stderrors.Join(errs...)
}
