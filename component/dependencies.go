package component

import (
	"log/slog"

	"github.com/c360/orchd/bus"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/natsclient"
)

// Dependencies provides the shared resources configurable instances may use.
type Dependencies struct {
	Bus             *bus.Bus                // Event bus for in-process communicators (nil means bus.Default())
	NATSClient      *natsclient.Client      // Shared NATS client (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// GetBus returns the configured bus or the process-wide default bus.
func (d *Dependencies) GetBus() *bus.Bus {
	if d.Bus != nil {
		return d.Bus
	}
	return bus.Default()
}

// CoreMetrics returns the core metrics of the registry, or nil.
func (d *Dependencies) CoreMetrics() *metric.Metrics {
	return d.MetricsRegistry.CoreMetrics()
}
