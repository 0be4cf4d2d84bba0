package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
)

const yamlConfig = `
version: 1.2.0
log:
  level: debug
nats:
  url: nats://localhost:4222
  subject: orchd.events
metrics:
  enabled: true
  port: 9191
dispatch:
  workers: 4
reactions:
  - name: alarm
    handler: orchd.handlers.Threshold
    triggered_on: io.orchd.events.udp.Packet
    handler_parameters:
      field: temp
      op: gt
      value: 40
    sinks:
      - name: out
        sink_class: orchd.sinks.FileSink
        properties:
          path: /tmp/out.jsonl
          append: true
    active: true
sensors:
  - name: opc
    sensor: orchd.sensors.OPCUAProbe
    communicator: orchd.communicators.LocalCommunicator
    sampling_interval: 2.5
    parameters:
      endpoint: opc.tcp://plc:4840
      nodes: [ns=2;s=Temp, ns=2;s=Pressure]
`

const jsoncConfig = `{
  // comments and trailing commas are accepted
  "version": "1.0.0",
  "log": {"format": "json"},
  "sensors": [
    {
      "name": "dummy",
      "sensor": "orchd.sensors.DummySensor",
      "sampling_interval": "250ms",
      "parameters": {"delay": 0.5},
    },
  ],
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "orchd.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, "orchd.events", cfg.NATS.Subject)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, 4, cfg.Dispatch.Workers)

	require.Len(t, cfg.Reactions, 1)
	r := cfg.Reactions[0]
	assert.Equal(t, "alarm", r.ID)
	assert.Equal(t, []string{"io.orchd.events.udp.Packet"}, r.TriggeredOn)
	assert.Equal(t, "40", r.HandlerParameters["value"])
	require.Len(t, r.Sinks, 1)
	assert.Equal(t, "true", r.Sinks[0].Properties["append"])

	require.Len(t, cfg.Sensors, 1)
	s := cfg.Sensors[0]
	assert.Equal(t, 2500*time.Millisecond, s.SamplingInterval.Std())
	assert.Equal(t, "ns=2;s=Temp,ns=2;s=Pressure", s.Parameters["nodes"])
}

func TestLoadFile_JSONC(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "orchd.jsonc", jsoncConfig))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Sensors, 1)
	assert.Equal(t, 250*time.Millisecond, cfg.Sensors[0].SamplingInterval.Std())
	assert.Equal(t, "0.5", cfg.Sensors[0].Parameters["delay"])
}

func TestLoader_LayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", yamlConfig)
	override := writeFile(t, "site.json", `{"log": {"level": "warn"}, "metrics": {"port": 9300}, "reactions": []}`)

	cfg, err := NewLoader().AddLayer(base).AddLayer(override).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled, "nested keys not in the override survive")
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.Empty(t, cfg.Reactions, "lists are replaced whole")
	assert.Len(t, cfg.Sensors, 1)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ORCHD_NATS_URL", "nats://edge:4222")
	t.Setenv("ORCHD_NATS_TOKEN", "s3cret")
	t.Setenv("ORCHD_METRICS_PORT", "9400")
	t.Setenv("ORCHD_DISPATCH_WORKERS", "8")
	t.Setenv("ORCHD_LOG_LEVEL", "error")

	cfg, err := LoadFile(writeFile(t, "orchd.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "nats://edge:4222", cfg.NATS.URL)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
	assert.Equal(t, 9400, cfg.Metrics.Port)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("ORCHD_METRICS_PORT", "ninety")

	_, err := LoadFile(writeFile(t, "orchd.yaml", yamlConfig))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "ORCHD_METRICS_PORT")
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("EDGE_LOG_FORMAT", "json")

	cfg, err := NewLoader().SetEnvPrefix("EDGE").AddLayer(writeFile(t, "orchd.yaml", yamlConfig)).Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_SchemaRejectsTemplate(t *testing.T) {
	path := writeFile(t, "orchd.yaml", `
reactions:
  - name: broken
    triggered_on: [io.orchd.events.system.Test]
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "reactions[0]")
	assert.Contains(t, err.Error(), "handler")
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "orchd.yaml", `
log:
  level: loud
reactions:
  - name: broken
`)
	cfg, err := NewLoader().EnableValidation(false).AddLayer(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.Log.Level)
}

func TestLoader_UnknownField(t *testing.T) {
	_, err := LoadFile(writeFile(t, "orchd.yaml", "metrics:\n  enabeld: true\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.yaml") }},
		{"unsupported extension", func(t *testing.T) string { return writeFile(t, "orchd.toml", "x = 1") }},
		{"malformed yaml", func(t *testing.T) string { return writeFile(t, "orchd.yaml", "log: [") }},
		{"malformed json", func(t *testing.T) string { return writeFile(t, "orchd.json", `{"log": `) }},
		{"directory", func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "conf.yaml")
			require.NoError(t, os.Mkdir(dir, 0700))
			return dir
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path(t))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_EmptyFile(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Empty(t, cfg.Reactions)
}

func TestLoader_Parse(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(jsoncConfig), "json")
	require.NoError(t, err)
	assert.Len(t, cfg.Sensors, 1)

	_, err = NewLoader().Parse([]byte("x"), "toml")
	require.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "orchd.yaml", yamlConfig))
	require.NoError(t, err)

	for _, name := range []string{"out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(path, cfg))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			reloaded, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Reactions, reloaded.Reactions)
			assert.Equal(t, cfg.Sensors[0].SamplingInterval, reloaded.Sensors[0].SamplingInterval)
			assert.Equal(t, cfg.Metrics, reloaded.Metrics)
		})
	}

	require.Error(t, Save(filepath.Join(t.TempDir(), "out.txt"), cfg))
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{
		"log":  map[string]any{"level": "info", "format": "text"},
		"keep": "yes",
	}
	override := map[string]any{
		"log":  map[string]any{"level": "debug"},
		"keep": nil,
		"new":  1,
	}

	merged := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{"level": "debug", "format": "text"}, merged["log"])
	assert.Equal(t, "yes", merged["keep"])
	assert.Equal(t, 1, merged["new"])
	assert.Equal(t, "info", base["log"].(map[string]any)["level"], "base untouched")
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../../etc/passwd.yaml"))
	assert.Error(t, validateConfigPath("config.ini"))
	assert.NoError(t, validateConfigPath("orchd.yml"))
	assert.NoError(t, validateConfigPath(filepath.Join(t.TempDir(), "orchd.jsonc")))
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "]]]"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [`)))
	assert.Error(t, validateJSONDepth([]byte(`}`)))

	deep := make([]byte, 0, 2*(maxJSONDepth+1))
	for range maxJSONDepth + 1 {
		deep = append(deep, '[')
	}
	for range maxJSONDepth + 1 {
		deep = append(deep, ']')
	}
	assert.Error(t, validateJSONDepth(deep))
}
