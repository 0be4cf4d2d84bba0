package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/orchd/errors"
)

func validReaction() ReactionTemplate {
	return ReactionTemplate{
		ID:                "r1",
		Name:              "io.orchd.reaction_template.Test",
		Version:           "0.1",
		Handler:           "orchd.handlers.Passthrough",
		TriggeredOn:       []string{"io.orchd.events.system.Test"},
		HandlerParameters: map[string]string{"k": "v"},
		Sinks: []SinkTemplate{{
			Name:       "io.orchd.sinks.DummySink",
			SinkClass:  "orchd.sinks.DummySink",
			Properties: map[string]string{"endpoint": "https://example.com/test"},
		}},
		Active: true,
	}
}

func TestReactionTemplateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ReactionTemplate)
		wantErr bool
	}{
		{"valid", func(*ReactionTemplate) {}, false},
		{"wildcard trigger", func(r *ReactionTemplate) { r.TriggeredOn = []string{""} }, false},
		{"no triggers", func(r *ReactionTemplate) { r.TriggeredOn = nil }, false},
		{"bad name", func(r *ReactionTemplate) { r.Name = "x" }, true},
		{"missing handler", func(r *ReactionTemplate) { r.Handler = " " }, true},
		{"bad trigger", func(r *ReactionTemplate) { r.TriggeredOn = []string{"bad trigger"} }, true},
		{"bad sink", func(r *ReactionTemplate) { r.Sinks[0].SinkClass = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReaction()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestReactionTemplateTriggers(t *testing.T) {
	r := validReaction()
	assert.True(t, r.Triggers("io.orchd.events.system.Test"))
	assert.False(t, r.Triggers("other.event"))

	r.TriggeredOn = append(r.TriggeredOn, Wildcard)
	assert.True(t, r.Triggers("other.event"))

	r.TriggeredOn = nil
	assert.False(t, r.Triggers("io.orchd.events.system.Test"))
}

func TestReactionTemplateClone(t *testing.T) {
	r := validReaction()
	c := r.Clone()
	c.TriggeredOn[0] = "changed"
	c.HandlerParameters["k"] = "changed"
	c.Sinks[0].Properties["endpoint"] = "changed"

	assert.Equal(t, "io.orchd.events.system.Test", r.TriggeredOn[0])
	assert.Equal(t, "v", r.HandlerParameters["k"])
	assert.Equal(t, "https://example.com/test", r.Sinks[0].Properties["endpoint"])
	assert.Equal(t, "v", r.Parameter("k", "def"))
	assert.Equal(t, "def", r.Parameter("missing", "def"))
}

func TestReactionTemplateJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(validReaction())
	require.NoError(t, err)
	require.NoError(t, ValidateDocument(KindReaction, b))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{"triggered_on", "handler_parameters", "sinks", "active"} {
		assert.Contains(t, raw, key)
	}
	sink := raw["sinks"].([]any)[0].(map[string]any)
	assert.Contains(t, sink, "sink_class")
}

func TestSensorTemplateValidate(t *testing.T) {
	s := SensorTemplate{Name: "io.orchd.sensors.Test", Sensor: "orchd.sensors.DummySensor"}
	require.NoError(t, s.Validate())

	s.SamplingInterval = Duration(-time.Second)
	assert.Error(t, s.Validate())

	s.SamplingInterval = 0
	s.Sensor = ""
	assert.Error(t, s.Validate())
}

func TestDurationDecoding(t *testing.T) {
	tests := []struct {
		name string
		json string
		yaml string
		want time.Duration
	}{
		{"string", `"250ms"`, `250ms`, 250 * time.Millisecond},
		{"seconds int", `2`, `2`, 2 * time.Second},
		{"seconds float", `0.5`, `0.5`, 500 * time.Millisecond},
		{"empty", `""`, `""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dj Duration
			require.NoError(t, json.Unmarshal([]byte(tt.json), &dj))
			assert.Equal(t, tt.want, dj.Std())

			var dy Duration
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &dy))
			assert.Equal(t, tt.want, dy.Std())
		})
	}

	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestSensorTemplateYAML(t *testing.T) {
	doc := `
name: io.orchd.sensors.Dummy
sensor: orchd.sensors.DummySensor
communicator: orchd.communicators.LocalCommunicator
parameters:
  delay: 10ms
sampling_interval: 1.5
`
	var s SensorTemplate
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))
	assert.Equal(t, 1500*time.Millisecond, s.SamplingInterval.Std())
	assert.Equal(t, "10ms", s.Parameter("delay", ""))

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "sampling_interval: 1.5s")
}
