package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

func newTestSink(t *testing.T, props map[string]string) (*Sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "out.log")
	if props == nil {
		props = map[string]string{}
	}
	props["path"] = path

	s := NewSink()
	tmpl := model.SinkTemplate{Name: "io.orchd.test.File", SinkClass: SinkType, Properties: props}
	require.NoError(t, s.Configure(context.Background(), tmpl, component.Dependencies{}))
	return s, path
}

func TestFileSink_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "jsonl", config.Format)
	assert.True(t, config.Append)
	assert.Equal(t, "none", config.Compression)
	assert.Equal(t, 100, config.BufferSize)
	assert.NoError(t, config.Validate())
}

func TestConfigFromProperties(t *testing.T) {
	tests := []struct {
		name    string
		props   map[string]string
		wantErr bool
	}{
		{"defaults", map[string]string{"path": "/tmp/x"}, false},
		{"bad format", map[string]string{"path": "/tmp/x", "format": "csv"}, true},
		{"bad compression", map[string]string{"path": "/tmp/x", "compression": "gzip"}, true},
		{"bad append", map[string]string{"path": "/tmp/x", "append": "maybe"}, true},
		{"negative buffer", map[string]string{"path": "/tmp/x", "buffer_size": "-1"}, true},
		{"bad interval", map[string]string{"path": "/tmp/x", "flush_interval": "soon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConfigFromProperties(tt.props)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFileSink_JSONLines(t *testing.T) {
	s, path := newTestSink(t, map[string]string{"buffer_size": "2", "flush_interval": "0"})
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, map[string]any{"n": 1}))
	require.NoError(t, s.Accept(ctx, map[string]any{"n": 2}))
	require.NoError(t, s.Accept(ctx, "plain"))

	// Two payloads filled the buffer, the third waits for Close.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(content))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\nplain\n", string(content))

	messages, _, errs := s.Stats()
	assert.Equal(t, int64(3), messages)
	assert.Zero(t, errs)
}

func TestFileSink_PrettyJSONAndRaw(t *testing.T) {
	ctx := context.Background()

	s, path := newTestSink(t, map[string]string{"format": "json", "buffer_size": "0"})
	require.NoError(t, s.Accept(ctx, map[string]any{"a": 1}))
	require.NoError(t, s.Close(ctx))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(content))

	s, path = newTestSink(t, map[string]string{"format": "raw", "buffer_size": "0"})
	require.NoError(t, s.Accept(ctx, []byte("ab")))
	require.NoError(t, s.Accept(ctx, []byte("cd")))
	require.NoError(t, s.Close(ctx))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(content))
}

func TestFileSink_Truncate(t *testing.T) {
	ctx := context.Background()
	s, path := newTestSink(t, map[string]string{"buffer_size": "0"})
	require.NoError(t, s.Accept(ctx, "first"))
	require.NoError(t, s.Close(ctx))

	s = NewSink()
	tmpl := model.SinkTemplate{Name: "io.orchd.test.File", SinkClass: SinkType, Properties: map[string]string{
		"path": path, "append": "false", "buffer_size": "0",
	}}
	require.NoError(t, s.Configure(ctx, tmpl, component.Dependencies{}))
	require.NoError(t, s.Accept(ctx, "second"))
	require.NoError(t, s.Close(ctx))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(content))
}

func TestFileSink_Zstd(t *testing.T) {
	ctx := context.Background()
	s, path := newTestSink(t, map[string]string{"compression": "zstd"})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Accept(ctx, map[string]any{"i": i}))
	}
	require.NoError(t, s.Close(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var sb strings.Builder
	_, err = dec.WriteTo(&sb)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, `{"i":4}`, lines[4])
}

func TestFileSink_AcceptBeforeConfigure(t *testing.T) {
	err := NewSink().Accept(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestFileSink_Register(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	v, err := registry.ResolveKind(SinkType, component.KindSink)
	require.NoError(t, err)
	assert.IsType(t, &Sink{}, v)
	require.NoError(t, ExampleTemplate().Validate())
}
