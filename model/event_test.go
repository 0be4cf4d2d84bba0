package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
)

func TestNewEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		wantErr bool
	}{
		{"namespaced", "io.orchd.events.system.Test", false},
		{"with dash", "sensor-1.reading", false},
		{"two chars", "ab", false},
		{"single char", "a", true},
		{"empty", "", true},
		{"leading dot", ".test", true},
		{"space", "bad name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEvent(tt.event, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				assert.ErrorIs(t, err, errors.ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, e.Name())
			assert.NotEmpty(t, e.ID())
			assert.NotNil(t, e.Data())
		})
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	a := MustEvent("test.event", nil)
	b := MustEvent("test.event", nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestEventIsImmutable(t *testing.T) {
	payload := map[string]any{
		"value":  1.5,
		"nested": map[string]any{"k": "v"},
		"list":   []any{"a"},
	}
	e := MustEvent("test.event", payload)

	payload["value"] = 99
	payload["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, 1.5, e.Data()["value"])
	assert.Equal(t, "v", e.Data()["nested"].(map[string]any)["k"])

	got := e.Data()
	got["value"] = "mutated"
	got["list"].([]any)[0] = "z"
	assert.Equal(t, 1.5, e.Data()["value"])

	list, ok := e.Get("list")
	require.True(t, ok)
	assert.Equal(t, []any{"a"}, list)
}

func TestEventJSON(t *testing.T) {
	e := MustEvent("io.orchd.events.system.Test", map[string]any{"dummy": "data"})

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, e.ID(), raw["id"])
	assert.Equal(t, "io.orchd.events.system.Test", raw["name"])
	assert.Equal(t, map[string]any{"dummy": "data"}, raw["data"])

	var decoded Event
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, e.ID(), decoded.ID())
	assert.Equal(t, e.Name(), decoded.Name())
	assert.Equal(t, e.Data(), decoded.Data())
}

func TestEventJSONLegacyName(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"event_name":"legacy.event","data":{"x":1}}`), &e))
	assert.Equal(t, "legacy.event", e.Name())
	assert.NotEmpty(t, e.ID(), "missing id is generated")
	assert.Equal(t, float64(1), e.Data()["x"])
}

func TestEventJSONRejectsInvalidName(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"id":"1","name":"!bad","data":{}}`), &e)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, e.IsZero())

	err = json.Unmarshal([]byte(`{"id":`), &e)
	require.Error(t, err)
}

func TestFromRecordKeepsID(t *testing.T) {
	e, err := FromRecord(EventRecord{ID: "fixed", Name: "a.b", Data: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.ID())
	assert.Equal(t, "Event(a.b, fixed)", e.String())
	assert.Equal(t, EventRecord{ID: "fixed", Name: "a.b", Data: map[string]any{"k": "v"}}, e.Record())
}
