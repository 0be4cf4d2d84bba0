// Package componentregistry registers every built-in orchd type with a
// component registry.
package componentregistry

import (
	"errors"

	"github.com/c360/orchd/communicator/natscomm"
	"github.com/c360/orchd/component"
	pkgerrors "github.com/c360/orchd/errors"
	"github.com/c360/orchd/handler"
	"github.com/c360/orchd/input/httpprobe"
	"github.com/c360/orchd/input/opcua"
	"github.com/c360/orchd/input/udp"
	"github.com/c360/orchd/output/file"
	"github.com/c360/orchd/output/httppost"
	"github.com/c360/orchd/output/kafkasink"
	"github.com/c360/orchd/output/mongosink"
	"github.com/c360/orchd/output/natspub"
	"github.com/c360/orchd/output/sqlsink"
	"github.com/c360/orchd/output/websocket"
	"github.com/c360/orchd/reaction"
	"github.com/c360/orchd/sensor"
	"github.com/c360/orchd/sink"
)

type registration struct {
	name     string
	register func(*component.Registry) error
}

// builtins lists the registrations in the order they are applied.
var builtins = []registration{
	// Handlers
	{"Dummy reaction handler", reaction.Register},
	{"Built-in handlers", handler.Register},

	// Sinks
	{"Dummy sink", sink.Register},
	{"File sink", file.Register},
	{"HTTP POST sink", httppost.Register},
	{"WebSocket sink", websocket.Register},
	{"NATS sink", natspub.Register},
	{"SQL sink", sqlsink.Register},
	{"MongoDB sink", mongosink.Register},
	{"Kafka sink", kafkasink.Register},

	// Sensors and the local communicator
	{"Dummy sensor and local communicator", sensor.Register},
	{"UDP listener", udp.Register},
	{"HTTP probe", httpprobe.Register},
	{"OPC UA probe", opcua.Register},

	// Communicators
	{"NATS communicator", natscomm.Register},
}

// Register registers all built-in orchd types with the provided registry:
//
// Handlers:
//   - orchd.reactions.DummyReactionHandler
//   - orchd.handlers.Passthrough, FieldMap, Threshold
//
// Sinks:
//   - orchd.sinks.DummySink, FileSink, HTTPPostSink, WebSocketSink
//   - orchd.sinks.NATSSink, SQLSink, MongoSink, KafkaSink
//
// Sensors:
//   - orchd.sensors.DummySensor, UDPListener, HTTPProbe, OPCUAProbe
//
// Communicators:
//   - orchd.communicators.LocalCommunicator, NATSCommunicator
func Register(registry *component.Registry) error {
	// CRITICAL: Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	for _, b := range builtins {
		if err := b.register(registry); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", b.name+" registration")
		}
	}
	return nil
}
