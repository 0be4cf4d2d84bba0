package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/orchd/errors"
)

const validConfig = `
log:
  level: warn
reactions:
  - name: ping-log
    handler: orchd.reactions.DummyReactionHandler
    triggered_on: [io.orchd.events.system.Test]
    sinks:
      - name: counter
        sink_class: orchd.sinks.DummySink
    active: true
sensors:
  - name: dummy
    sensor: orchd.sensors.DummySensor
    communicator: orchd.communicators.LocalCommunicator
    sampling_interval: 1s
    parameters:
      delay: 10ms
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// runCLI executes the command tree and returns stdout, stderr and the exit
// code.
func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "orchd", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	for _, name := range []string{"log-level", "log-format", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	for _, name := range []string{"run", "validate", "template", "types", "schema", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("config"))
	assert.NotNil(t, run.Flags().Lookup("shutdown-timeout"))
}

func TestExecute_UnsupportedOutput(t *testing.T) {
	_, stderr, code := runCLI(t, "version", "-o", "yaml")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, `unsupported output format "yaml"`)
}

func TestExecute_UnknownCommand(t *testing.T) {
	_, stderr, code := runCLI(t, "explode")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitFailure, exitCode(fmt.Errorf("boom")))
	assert.Equal(t, ExitInvalid, exitCode(pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "x", "y", "z")))
	assert.Equal(t, 7, exitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: 7})))
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCLI(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "orchd version "+Version)

	stdout, _, code = runCLI(t, "version", "-o", "json")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"version": "`+Version+`"`)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"orchd"`)
}
