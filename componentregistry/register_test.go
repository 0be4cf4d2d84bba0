package componentregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
)

func TestRegister(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, Register(reg))

	want := map[component.Kind][]string{
		component.KindHandler: {
			"orchd.handlers.FieldMap",
			"orchd.handlers.Passthrough",
			"orchd.handlers.Threshold",
			"orchd.reactions.DummyReactionHandler",
		},
		component.KindSink: {
			"orchd.sinks.DummySink",
			"orchd.sinks.FileSink",
			"orchd.sinks.HTTPPostSink",
			"orchd.sinks.KafkaSink",
			"orchd.sinks.MongoSink",
			"orchd.sinks.NATSSink",
			"orchd.sinks.SQLSink",
			"orchd.sinks.WebSocketSink",
		},
		component.KindSensor: {
			"orchd.sensors.DummySensor",
			"orchd.sensors.HTTPProbe",
			"orchd.sensors.OPCUAProbe",
			"orchd.sensors.UDPListener",
		},
		component.KindCommunicator: {
			"orchd.communicators.LocalCommunicator",
			"orchd.communicators.NATSCommunicator",
		},
	}

	for kind, refs := range want {
		t.Run(string(kind), func(t *testing.T) {
			var got []string
			for _, info := range reg.ListKind(kind) {
				got = append(got, info.TypeRef)
				assert.NotEmpty(t, info.Description, info.TypeRef)
			}
			assert.Equal(t, refs, got)
		})
	}

	for _, info := range reg.List() {
		v, err := reg.ResolveKind(info.TypeRef, info.Kind)
		require.NoError(t, err, info.TypeRef)
		assert.NotNil(t, v)
	}
}

func TestRegister_Templates(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, Register(reg))

	for _, ref := range []string{"orchd.reactions.DummyReactionHandler", "orchd.sinks.DummySink", "orchd.sensors.DummySensor"} {
		_, ok := reg.Template(ref)
		assert.True(t, ok, "%s has an example template", ref)
	}
}

func TestRegister_NilRegistry(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestRegister_Twice(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, Register(reg))

	err := Register(reg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "registration")
}
