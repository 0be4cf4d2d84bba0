package config

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

func validConfig() *Config {
	cfg := &Config{
		Version: "1.0.0",
		Reactions: []model.ReactionTemplate{{
			Name:        "alarm",
			Handler:     "orchd.handlers.Threshold",
			TriggeredOn: []string{"io.orchd.events.udp.Packet"},
			Active:      true,
		}},
		Sensors: []model.SensorTemplate{{
			Name:   "probe",
			Sensor: "orchd.sensors.DummySensor",
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, "json", cfg.NATS.Codec)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, DefaultQueueSize, cfg.Dispatch.QueueSize)
	assert.Equal(t, "alarm", cfg.Reactions[0].ID, "id defaults to name")
	assert.Equal(t, "probe", cfg.Sensors[0].ID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = "one" }, "version"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad nats scheme", func(c *Config) { c.NATS.URL = "http://localhost:4222" }, "unsupported scheme"},
		{"token and user", func(c *Config) {
			c.NATS.URL = "nats://localhost:4222"
			c.NATS.Token = "t"
			c.NATS.Username = "u"
		}, "mutually exclusive"},
		{"password without user", func(c *Config) {
			c.NATS.URL = "nats://localhost:4222"
			c.NATS.Password = "p"
		}, "requires nats.username"},
		{"unknown codec", func(c *Config) { c.NATS.Codec = "xml" }, "nats.codec"},
		{"subject without url", func(c *Config) { c.NATS.Subject = "orchd.events" }, "require nats.url"},
		{"metrics port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}, "metrics.port"},
		{"metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
		{"negative workers", func(c *Config) { c.Dispatch.Workers = -1 }, "dispatch.workers"},
		{"invalid reaction", func(c *Config) { c.Reactions[0].Handler = "" }, "reactions[0]"},
		{"duplicate reaction", func(c *Config) {
			c.Reactions = append(c.Reactions, c.Reactions[0].Clone())
		}, "duplicate id"},
		{"invalid sensor", func(c *Config) { c.Sensors[0].Name = "!" }, "sensors[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	var cfg *Config
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestClone_IsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Reactions[0].HandlerParameters = map[string]string{"field": "temp"}

	clone := cfg.Clone()
	clone.Reactions[0].HandlerParameters["field"] = "pressure"
	clone.Sensors[0].Name = "other"

	assert.Equal(t, "temp", cfg.Reactions[0].HandlerParameters["field"])
	assert.Equal(t, "probe", cfg.Sensors[0].Name)
}

func TestReactionAndSensorLookup(t *testing.T) {
	cfg := validConfig()

	r, ok := cfg.Reaction("alarm")
	require.True(t, ok)
	assert.Equal(t, "orchd.handlers.Threshold", r.Handler)

	_, ok = cfg.Reaction("missing")
	assert.False(t, ok)

	cfg.setSensor(model.SensorTemplate{ID: "probe", Name: "probe", Sensor: "orchd.sensors.HTTPProbe"})
	s, ok := cfg.Sensor("probe")
	require.True(t, ok)
	assert.Equal(t, "orchd.sensors.HTTPProbe", s.Sensor)
	assert.Len(t, cfg.Sensors, 1)

	cfg.deleteReaction("alarm")
	assert.Empty(t, cfg.Reactions)
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.Username = "orchd"
	cfg.NATS.Password = "hunter2"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"password": "***"`)
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original untouched")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"v2.0.0", "1.9.9", 1},
		{"1.0.1", "1.0.0", 1},
	}
	for _, tt := range tests {
		t.Run(tt.v1+"_"+tt.v2, func(t *testing.T) {
			got, err := CompareVersions(tt.v1, tt.v2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CompareVersions("1.0", "1.0.0")
	assert.Error(t, err)
	_, err = CompareVersions("1.0.0", "")
	assert.Error(t, err)
}

func TestSafeConfig_ThreadSafety(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	const numGoroutines = 50
	const numOperations = 200

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for range numGoroutines / 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range numOperations {
				cfg := safeConfig.Get()
				if cfg == nil {
					errs <- fmt.Errorf("got nil config")
					return
				}
				if v := cfg.Version; v != "1.0.0" && v != "1.1.0" {
					errs <- fmt.Errorf("unexpected version: %s", v)
					return
				}
			}
		}()
	}

	for range numGoroutines / 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range numOperations / 10 {
				next := validConfig()
				next.Version = "1.1.0"
				if err := safeConfig.Update(next); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSafeConfig_UpdateRejectsInvalid(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	bad := validConfig()
	bad.Log.Level = "loud"
	require.Error(t, safeConfig.Update(bad))
	require.Error(t, safeConfig.Update(nil))

	assert.Equal(t, DefaultLogLevel, safeConfig.Get().Log.Level)
}

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	cfg := safeConfig.Get()
	cfg.Reactions[0].Name = "mutated"

	assert.Equal(t, "alarm", safeConfig.Get().Reactions[0].Name)
}
