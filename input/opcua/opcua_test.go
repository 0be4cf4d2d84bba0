package opcua

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fakeReader struct {
	results []*ua.DataValue
	err     error
	reads   int
	closed  bool
	lastReq *ua.ReadRequest
}

func (f *fakeReader) Read(_ context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	f.reads++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ua.ReadResponse{Results: f.results}, nil
}

func (f *fakeReader) Close(context.Context) error {
	f.closed = true
	return nil
}

func dataValue(t *testing.T, v any) *ua.DataValue {
	t.Helper()
	variant, err := ua.NewVariant(v)
	require.NoError(t, err)
	return &ua.DataValue{Status: ua.StatusOK, Value: variant}
}

func configure(t *testing.T, dial DialFunc, params map[string]string) *Probe {
	t.Helper()
	p := NewProbeWithDialer(dial)
	tmpl := model.SensorTemplate{Name: "io.orchd.test.OPCUA", Sensor: SensorType, Parameters: params}
	require.NoError(t, p.Configure(context.Background(), tmpl, component.Dependencies{}))
	return p
}

var twoNodes = map[string]string{
	"endpoint": "opc.tcp://plc:4840",
	"nodes":    "ns=2;s=Temperature, ns=2;i=1001",
}

func TestConfigFromParameters(t *testing.T) {
	cfg, err := ConfigFromParameters(map[string]string{
		"endpoint": "opc.tcp://plc:4840", "nodes": "ns=2;s=Temp", "security_mode": "sign_and_encrypt",
	})
	require.NoError(t, err)
	assert.Equal(t, "SignAndEncrypt", cfg.SecurityMode)
	assert.Equal(t, "None", cfg.SecurityPolicy)
	assert.Equal(t, DefaultEventName, cfg.EventName)
	assert.Len(t, ClientOptions(cfg), 6)

	tests := []struct {
		name   string
		params map[string]string
	}{
		{"bad endpoint", map[string]string{"endpoint": "http://plc", "nodes": "i=1"}},
		{"no nodes", map[string]string{"endpoint": "opc.tcp://plc:4840"}},
		{"bad node", map[string]string{"endpoint": "opc.tcp://plc:4840", "nodes": "ns=x;q=1"}},
		{"password only", map[string]string{"endpoint": "opc.tcp://plc:4840", "nodes": "i=1", "password": "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConfigFromParameters(tt.params)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestProbe_SenseReadsAllNodes(t *testing.T) {
	reader := &fakeReader{results: []*ua.DataValue{dataValue(t, float32(21.5)), dataValue(t, "RUN")}}
	dials := 0
	p := configure(t, func(context.Context, Config) (Reader, error) {
		dials++
		return reader, nil
	}, twoNodes)

	emit := &recordingEmitter{}
	require.NoError(t, p.Sense(context.Background(), emit))
	require.NoError(t, p.Sense(context.Background(), emit))

	assert.Equal(t, 1, dials, "session is reused")
	assert.Equal(t, 2, reader.reads)
	require.Len(t, reader.lastReq.NodesToRead, 2)

	require.Len(t, emit.events, 2)
	values, _ := emit.events[0].Get("values")
	assert.Equal(t, map[string]any{"ns=2;s=Temperature": 21.5, "ns=2;i=1001": "RUN"}, values)
	_, hasStatuses := emit.events[0].Get("statuses")
	assert.False(t, hasStatuses)

	require.NoError(t, p.Close(context.Background()))
	assert.True(t, reader.closed)
}

func TestProbe_PartialStatus(t *testing.T) {
	reader := &fakeReader{results: []*ua.DataValue{
		dataValue(t, int32(7)),
		{Status: ua.StatusBadNodeIDUnknown},
	}}
	p := configure(t, func(context.Context, Config) (Reader, error) { return reader, nil }, twoNodes)

	emit := &recordingEmitter{}
	require.NoError(t, p.Sense(context.Background(), emit))
	statuses, ok := emit.events[0].Get("statuses")
	require.True(t, ok)
	assert.Contains(t, statuses, "ns=2;i=1001")
	values, _ := emit.events[0].Get("values")
	assert.Equal(t, map[string]any{"ns=2;s=Temperature": float64(7)}, values)
}

func TestProbe_AllNodesBad(t *testing.T) {
	reader := &fakeReader{results: []*ua.DataValue{
		{Status: ua.StatusBadNodeIDUnknown},
		{Status: ua.StatusBadNodeIDUnknown},
	}}
	p := configure(t, func(context.Context, Config) (Reader, error) { return reader, nil }, twoNodes)

	emit := &recordingEmitter{}
	err := p.Sense(context.Background(), emit)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Empty(t, emit.events)
}

func TestProbe_ReconnectsAfterReadFailure(t *testing.T) {
	broken := &fakeReader{err: stderrors.New("secure channel closed")}
	healthy := &fakeReader{results: []*ua.DataValue{dataValue(t, 1.0), dataValue(t, 2.0)}}
	sessions := []*fakeReader{broken, healthy}
	p := configure(t, func(context.Context, Config) (Reader, error) {
		r := sessions[0]
		sessions = sessions[1:]
		return r, nil
	}, twoNodes)

	emit := &recordingEmitter{}
	err := p.Sense(context.Background(), emit)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, broken.closed)

	require.NoError(t, p.Sense(context.Background(), emit))
	assert.Len(t, emit.events, 1)
}

func TestProbe_DialFailure(t *testing.T) {
	p := configure(t, func(context.Context, Config) (Reader, error) {
		return nil, errors.WrapTransient(stderrors.New("refused"), "test", "dial", "connect")
	}, twoNodes)

	err := p.Sense(context.Background(), &recordingEmitter{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	require.NoError(t, p.Close(context.Background()))
}

func TestProbe_SenseBeforeConfigure(t *testing.T) {
	err := NewProbe().Sense(context.Background(), &recordingEmitter{})
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	v, err := registry.ResolveKind(SensorType, component.KindSensor)
	require.NoError(t, err)
	assert.IsType(t, &Probe{}, v)
	require.NoError(t, ExampleTemplate().Validate())
}
