// Package orchd is an event orchestration runtime for edge and IoT
// deployments.
//
// Sensors sample devices (UDP datagrams, HTTP endpoints, OPC UA nodes) and
// hand each reading to a communicator, which publishes it as a named Event
// on an in-process bus or sends it over NATS to a remote orchd. Reactions
// subscribe to event names; each runs a handler on the triggering event and
// fans the result out to its sinks (files, HTTP, WebSocket, NATS, SQL,
// MongoDB, Kafka).
//
// # Layout
//
//	model/              Event, templates, runtime snapshots, JSON Schemas
//	component/          Type registry resolving "namespace.Type" references
//	bus/                In-process publish/subscribe
//	sink/               Sink manager with all-or-nothing provisioning
//	reaction/           Reaction state machine and handler dispatch
//	sensor/             Sampling loop, error policies, local communicator
//	handler/            Built-in handlers
//	output/             Built-in sinks
//	input/              Built-in sensor probes
//	communicator/       Remote communicators
//	engine/             Owner of reactions and sensors, validator
//	config/             Layered file config and NATS KV sync
//	componentregistry/  Registers every built-in type
//	cmd/orchd/          Command line
//
// Infrastructure packages (errors, metric, health, natsclient, codec and
// pkg/...) carry no orchestration logic.
//
// # Quick start
//
//	orchd types
//	orchd template orchd.sinks.FileSink
//	orchd validate --config orchd.yaml
//	orchd run --config orchd.yaml
package orchd
