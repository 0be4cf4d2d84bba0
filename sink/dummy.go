package sink

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/model"
)

// DummySinkType is the type reference of DummySink.
const DummySinkType = "orchd.sinks.DummySink"

// DummySink logs every accepted value at debug level and counts them.
type DummySink struct {
	logger   *slog.Logger
	accepted atomic.Int64
	closed   atomic.Int64
}

// Configure implements Configurable.
func (d *DummySink) Configure(_ context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	d.logger = deps.GetLoggerWithComponent("dummy-sink").With("endpoint", tmpl.Property("endpoint", ""))
	return nil
}

// Accept implements Sink.
func (d *DummySink) Accept(_ context.Context, data any) error {
	d.accepted.Add(1)
	if d.logger != nil {
		d.logger.Debug("Dummy sink accepted data", "data", data)
	}
	return nil
}

// Close implements Sink.
func (d *DummySink) Close(context.Context) error {
	d.closed.Add(1)
	return nil
}

// Accepted returns the number of accepted values.
func (d *DummySink) Accepted() int64 { return d.accepted.Load() }

// DummyTemplate returns the example template of DummySink.
func DummyTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:       "io.orchd.sinks.DummySink",
		Version:    "0.1",
		SinkClass:  DummySinkType,
		Properties: map[string]string{"endpoint": "https://example.com/test"},
	}
}

// Register registers the sinks of this package.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     DummySinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return &DummySink{} },
		Description: "Logs and counts handler output",
		Version:     "0.1",
		Template:    DummyTemplate(),
	})
}
