package testutil

import (
	"github.com/c360/orchd/model"
)

// Type references registered by tests that use the stubs in this package.
const (
	RecordingSinkType = "orchd.test.RecordingSink"
	StubHandlerType   = "orchd.test.StubHandler"
	StubProbeType     = "orchd.test.StubProbe"
	TestEventName     = "io.orchd.events.system.Test"
)

// TestReadings contains generic sensor readings.
var TestReadings = []map[string]any{
	{"sensor": "line-1", "temp": 21.5, "unit": "C", "ok": true},
	{"sensor": "line-1", "temp": 44.0, "unit": "C", "ok": true},
	{"sensor": "line-2", "temp": -3.25, "unit": "C", "ok": false},
}

// TestEvents builds one event per reading, named name.
func TestEvents(name string) []model.Event {
	events := make([]model.Event, 0, len(TestReadings))
	for _, r := range TestReadings {
		events = append(events, model.MustEvent(name, r))
	}
	return events
}

// SinkTemplate returns a template for the recording sink.
func SinkTemplate(name string) model.SinkTemplate {
	return model.SinkTemplate{
		Name:       name,
		Version:    "0.1",
		SinkClass:  RecordingSinkType,
		Properties: map[string]string{"label": name},
	}
}

// ReactionTemplate returns an active template handled by the stub handler,
// triggered on TestEventName and delivering to one recording sink per name.
func ReactionTemplate(name string, sinks ...string) model.ReactionTemplate {
	tmpl := model.ReactionTemplate{
		Name:        name,
		Version:     "0.1",
		Handler:     StubHandlerType,
		TriggeredOn: []string{TestEventName},
		Active:      true,
	}
	for _, s := range sinks {
		tmpl.Sinks = append(tmpl.Sinks, SinkTemplate(s))
	}
	return tmpl
}

// SensorTemplate returns a template for the stub probe and the local
// communicator sampling every interval.
func SensorTemplate(name string, interval model.Duration) model.SensorTemplate {
	return model.SensorTemplate{
		Name:             name,
		Version:          "0.1",
		Sensor:           StubProbeType,
		Communicator:     "orchd.communicators.LocalCommunicator",
		SamplingInterval: interval,
	}
}
