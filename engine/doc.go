// Package engine owns the reactions and sensors of an orchd process.
//
// # Overview
//
// The Engine is the server-side owner used by the CLI: it provisions
// reactions and sensors from templates, keeps them addressable by runtime id
// or template id, and tears everything down in order on shutdown.
//
// # Architecture
//
//	┌──────────────┐   templates    ┌──────────────┐
//	│ config / KV  │ ─────────────> │    Engine    │
//	└──────────────┘                │ - reactions  │
//	                                │ - sensors    │
//	                                └──────┬───────┘
//	                                       │ registry lookups
//	              ┌────────────────────────┼──────────────────────┐
//	              ▼                        ▼                      ▼
//	        ┌──────────┐   publish   ┌──────────┐  on_event  ┌──────────┐
//	        │  Sensor  │ ──────────> │   Bus    │ ─────────> │ Reaction │ ──> Sinks
//	        └──────────┘             └──────────┘            └──────────┘
//
// Sensors created by the engine get the engine bus through
// component.Dependencies, so a LocalCommunicator publishes where the
// engine's reactions listen.
//
// # Dispatch
//
// With WithDispatch(workers, queue) every reaction delivers handler output
// through one shared worker.Pool. A full queue drops the delivery. Without
// it each delivery runs on its own goroutine.
//
// # Replacement
//
// ReplaceReaction and ReplaceSensor are used when a template changes at
// runtime (the config manager's KV watch). The replacement is provisioned
// first; the old entity is closed only once the new one is ready, so a bad
// update leaves the old reaction running.
//
// # Shutdown
//
// Close stops sensors concurrently, then closes reactions in the order they
// were added (each waits for its in-flight deliveries), then stops the
// dispatch pool.
//
// # Validation
//
// Validator checks templates against the registry without creating
// anything: unknown or mis-kinded type references, malformed templates,
// duplicate ids and bad error policies are errors; reactions without sinks
// or triggers, inactive reactions and sensors without a sampling interval
// are warnings.
//
// # Errors
//
// Unknown ids return an invalid error wrapping errors.ErrNotFound;
// operations on a closed engine wrap errors.ErrClosed. Failures from
// reactions and sensors are returned unchanged so errors.As reaches the
// ReactionError, SinkError or SensorError underneath.
package engine
