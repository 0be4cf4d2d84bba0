// Package model defines the records exchanged between sensors, the bus,
// reactions and sinks: events, templates and read-only status snapshots.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/c360/orchd/errors"
)

// NamePattern is the namespaced identifier format of event and template names.
const NamePattern = `^\w[\w._-]+$`

var nameRegex = regexp.MustCompile(NamePattern)

// ValidName reports whether name is a namespaced identifier.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// Event is an immutable named occurrence with a data payload.
type Event struct {
	id   string
	name string
	data map[string]any
}

// NewEvent creates an event with a fresh id. data is copied.
func NewEvent(name string, data map[string]any) (Event, error) {
	if !ValidName(name) {
		return Event{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q does not match %s", errors.ErrInvalidName, name, NamePattern),
			"Event", "NewEvent", "validate name")
	}
	return Event{
		id:   uuid.NewString(),
		name: name,
		data: cloneMap(data),
	}, nil
}

// MustEvent is NewEvent for names known at compile time. It panics on an
// invalid name.
func MustEvent(name string, data map[string]any) Event {
	e, err := NewEvent(name, data)
	if err != nil {
		panic(err)
	}
	return e
}

// ID returns the event identifier.
func (e Event) ID() string { return e.id }

// Name returns the event name.
func (e Event) Name() string { return e.name }

// Data returns a copy of the payload.
func (e Event) Data() map[string]any { return cloneMap(e.data) }

// Get returns a single payload value. Nested maps and slices are copied.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.data[key]
	return cloneValue(v), ok
}

// IsZero reports whether e was never constructed.
func (e Event) IsZero() bool { return e.id == "" && e.name == "" }

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("Event(%s, %s)", e.name, e.id)
}

// EventRecord is the exchange form of an Event.
type EventRecord struct {
	ID   string         `json:"id" cbor:"id" yaml:"id"`
	Name string         `json:"name" cbor:"name" yaml:"name"`
	Data map[string]any `json:"data" cbor:"data" yaml:"data"`
}

// Record returns the exchange form of the event.
func (e Event) Record() EventRecord {
	return EventRecord{ID: e.id, Name: e.name, Data: e.Data()}
}

// FromRecord rebuilds an event, keeping its id. A missing id is generated.
func FromRecord(r EventRecord) (Event, error) {
	if !ValidName(r.Name) {
		return Event{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidName, r.Name),
			"Event", "FromRecord", "validate name")
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Event{id: id, name: r.Name, data: cloneMap(r.Data)}, nil
}

// MarshalJSON encodes the event as {"id","name","data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// UnmarshalJSON decodes and validates an event. The legacy "event_name"
// key is accepted in place of "name".
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		EventRecord
		EventName string `json:"event_name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.WrapInvalid(err, "Event", "UnmarshalJSON", "decode event")
	}
	if raw.Name == "" {
		raw.Name = raw.EventName
	}
	ev, err := FromRecord(raw.EventRecord)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, x := range t {
			out[k] = x
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
