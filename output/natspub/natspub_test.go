package natspub

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

type message struct {
	subject string
	data    []byte
	stream  bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	return f.record(message{subject: subject, data: data})
}

func (f *fakePublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	return f.record(message{subject: subject, data: data, stream: true})
}

func (f *fakePublisher) record(m message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

func tmpl(props map[string]string) model.SinkTemplate {
	return model.SinkTemplate{Name: "io.orchd.test.Nats", SinkClass: SinkType, Properties: props}
}

func TestConfigFromProperties(t *testing.T) {
	tests := []struct {
		name    string
		props   map[string]string
		wantErr bool
	}{
		{"core", map[string]string{"subject": "orchd.out"}, false},
		{"jetstream with stream", map[string]string{"subject": "orchd.out", "jetstream": "true", "stream": "OUT"}, false},
		{"missing subject", map[string]string{}, true},
		{"wildcard subject", map[string]string{"subject": "orchd.>"}, true},
		{"stream without jetstream", map[string]string{"subject": "orchd.out", "stream": "OUT"}, true},
		{"token and user", map[string]string{"subject": "orchd.out", "token": "t", "user": "u"}, true},
		{"bad jetstream flag", map[string]string{"subject": "orchd.out", "jetstream": "perhaps"}, true},
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

func TestNATSSink_PublishCore(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSinkWithPublisher(pub)
	require.NoError(t, s.Configure(context.Background(), tmpl(map[string]string{"subject": "orchd.out"}), component.Dependencies{}))

	require.NoError(t, s.Accept(context.Background(), map[string]any{"alert": true}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "orchd.out", pub.msgs[0].subject)
	assert.False(t, pub.msgs[0].stream)
	assert.JSONEq(t, `{"alert":true}`, string(pub.msgs[0].data))

	published, failed := s.Stats()
	assert.Equal(t, int64(1), published)
	assert.Zero(t, failed)
	require.NoError(t, s.Close(context.Background()))
}

func TestNATSSink_PublishJetStreamCBOR(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSinkWithPublisher(pub)
	props := map[string]string{"subject": "orchd.out", "jetstream": "true", "codec": "cbor"}
	require.NoError(t, s.Configure(context.Background(), tmpl(props), component.Dependencies{}))

	require.NoError(t, s.Accept(context.Background(), map[string]any{"n": 2}))
	require.Len(t, pub.msgs, 1)
	assert.True(t, pub.msgs[0].stream)

	c, err := codec.ByName(codec.CBOR)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, c.Unmarshal(pub.msgs[0].data, &got))
	assert.EqualValues(t, 2, got["n"])
}

func TestNATSSink_PublishError(t *testing.T) {
	boom := stderrors.New("no connection")
	s := NewSinkWithPublisher(&fakePublisher{err: boom})
	require.NoError(t, s.Configure(context.Background(), tmpl(map[string]string{"subject": "orchd.out"}), component.Dependencies{}))

	err := s.Accept(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, failed := s.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestNATSSink_RequiresClient(t *testing.T) {
	err := NewSink().Configure(context.Background(), tmpl(map[string]string{"subject": "orchd.out"}), component.Dependencies{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestNATSSink_AcceptBeforeConfigure(t *testing.T) {
	err := NewSink().Accept(context.Background(), "x")
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestNATSSink_Register(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	v, err := registry.ResolveKind(SinkType, component.KindSink)
	require.NoError(t, err)
	assert.IsType(t, &Sink{}, v)
	require.NoError(t, ExampleTemplate().Validate())
}
