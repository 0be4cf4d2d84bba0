package main

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/model"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestTemplate_Golden(t *testing.T) {
	stdout, stderr, code := runCLI(t, "template", "orchd.sinks.DummySink")
	require.Equal(t, ExitOK, code, stderr)

	newGoldie(t).Assert(t, "template_dummy_sink", []byte(stdout))
}

func TestTemplate_DecodesAsTemplate(t *testing.T) {
	stdout, stderr, code := runCLI(t, "template", "orchd.reactions.DummyReactionHandler")
	require.Equal(t, ExitOK, code, stderr)

	var tmpl model.ReactionTemplate
	require.NoError(t, json.Unmarshal([]byte(stdout), &tmpl))
	assert.NoError(t, tmpl.Validate())
	assert.Equal(t, "orchd.reactions.DummyReactionHandler", tmpl.Handler)
	assert.NoError(t, model.ValidateDocument(model.KindReaction, []byte(stdout)))
}

func TestTemplate_Errors(t *testing.T) {
	_, stderr, code := runCLI(t, "template", "orchd.sinks.Nope")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, "not registered")

	_, stderr, code = runCLI(t, "template", "orchd.communicators.LocalCommunicator")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, "no example template")

	_, _, code = runCLI(t, "template")
	assert.Equal(t, ExitFailure, code)
}

func TestTypes_Golden(t *testing.T) {
	stdout, stderr, code := runCLI(t, "types", "--kind", "communicator", "-o", "json")
	require.Equal(t, ExitOK, code, stderr)

	newGoldie(t).Assert(t, "types_communicator", []byte(stdout))
}

func TestTypes_Text(t *testing.T) {
	stdout, stderr, code := runCLI(t, "types")
	require.Equal(t, ExitOK, code, stderr)

	assert.Contains(t, stdout, "KIND")
	for _, ref := range []string{
		"orchd.handlers.Threshold",
		"orchd.sinks.KafkaSink",
		"orchd.sensors.OPCUAProbe",
		"orchd.communicators.NATSCommunicator",
	} {
		assert.Contains(t, stdout, ref)
	}
}

func TestTypes_UnknownKind(t *testing.T) {
	_, stderr, code := runCLI(t, "types", "--kind", "gizmo")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, `unknown kind "gizmo"`)
}

func TestSchema(t *testing.T) {
	for _, kind := range model.SchemaKinds() {
		t.Run(kind, func(t *testing.T) {
			stdout, stderr, code := runCLI(t, "schema", kind)
			require.Equal(t, ExitOK, code, stderr)

			want, err := model.Schema(kind)
			require.NoError(t, err)
			assert.Equal(t, string(want), stdout)
		})
	}

	_, _, code := runCLI(t, "schema", "gizmo")
	assert.Equal(t, ExitInvalid, code)
}
