package config

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return &Manager{
		config:      NewSafeConfig(validConfig()),
		subscribers: make(map[string][]chan Update),
		logger:      slog.Default(),
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		key, pattern string
		want         bool
	}{
		{"reactions.alarm", "reactions.alarm", true},
		{"reactions.alarm", "reactions.*", true},
		{"sensors.alarm", "reactions.*", false},
		{"sensors.udp-main", "sensors.udp-*", true},
		{"sensors.http", "sensors.udp-*", false},
		{"version", "version", true},
		{"reactions", "reactions.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"~"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.key, tt.pattern))
		})
	}
}

func TestUpdate_SectionAndID(t *testing.T) {
	u := Update{Key: "reactions.io.orchd.alarm"}
	assert.Equal(t, "reactions", u.Section())
	assert.Equal(t, "io.orchd.alarm", u.ID())

	v := Update{Key: "version"}
	assert.Equal(t, "version", v.Section())
	assert.Empty(t, v.ID())
}

func TestManager_UpdateConfig(t *testing.T) {
	cm := newTestManager(t)

	tmpl := model.ReactionTemplate{
		Name:        "forward",
		Handler:     "orchd.handlers.Passthrough",
		TriggeredOn: []string{""},
	}
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	require.NoError(t, cm.updateConfig("reactions.forward", data, false))
	r, ok := cm.GetConfig().Get().Reaction("forward")
	require.True(t, ok)
	assert.Equal(t, "forward", r.ID, "id comes from the key")
	assert.Equal(t, "orchd.handlers.Passthrough", r.Handler)

	require.NoError(t, cm.updateConfig("reactions.forward", nil, true))
	_, ok = cm.GetConfig().Get().Reaction("forward")
	assert.False(t, ok)

	sensor, err := json.Marshal(model.SensorTemplate{Name: "probe", Sensor: "orchd.sensors.HTTPProbe"})
	require.NoError(t, err)
	require.NoError(t, cm.updateConfig("sensors.probe", sensor, false))
	s, ok := cm.GetConfig().Get().Sensor("probe")
	require.True(t, ok)
	assert.Equal(t, "orchd.sensors.HTTPProbe", s.Sensor)
	assert.Len(t, cm.GetConfig().Get().Sensors, 1, "replaced in place")

	require.NoError(t, cm.updateConfig("version", []byte(`"2.0.0"`), false))
	assert.Equal(t, "2.0.0", cm.GetConfig().Get().Version)

	require.NoError(t, cm.updateConfig("unrelated.key", []byte(`{}`), false))
}

func TestManager_UpdateConfigRejects(t *testing.T) {
	cm := newTestManager(t)

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"no id", "reactions", []byte(`{}`)},
		{"bad json", "reactions.x", []byte(`{"name": `)},
		{"invalid template", "reactions.x", []byte(`{"name": "x!", "handler": "h"}`)},
		{"bad version", "version", []byte(`"latest"`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, cm.updateConfig(tt.key, tt.value, false))
		})
	}

	assert.Equal(t, validConfig().Reactions, cm.GetConfig().Get().Reactions)
}

func TestManager_HandleUpdateNotifies(t *testing.T) {
	cm := newTestManager(t)
	reactions := cm.OnChange("reactions.*")
	sensors := cm.OnChange("sensors.*")

	cm.handleUpdate("reactions.alarm", nil, true)

	select {
	case u := <-reactions:
		assert.Equal(t, "reactions.alarm", u.Key)
		assert.True(t, u.Deleted)
		assert.Empty(t, u.Config.Get().Reactions)
	default:
		t.Fatal("expected a reaction update")
	}

	select {
	case u := <-sensors:
		t.Fatalf("unexpected sensor update %s", u.Key)
	default:
	}

	require.NoError(t, cm.Stop(0))
	_, open := <-reactions
	assert.False(t, open, "Stop closes subscriber channels")

	cm.handleUpdate("reactions.other", nil, true)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "io.orchd.alarm", sanitizeKey("io.orchd.alarm"))
	assert.Equal(t, "my_alarm_", sanitizeKey("my alarm*"))
}
