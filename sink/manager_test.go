package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/component"
	pkgerrors "github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
)

const (
	countingType = "test.sinks.Counting"
	failingType  = "test.sinks.FailingConfigure"
)

// closeLog counts Close calls per sink across a test.
type closeLog struct {
	mu     sync.Mutex
	closes map[*countingSink]int
}

func (l *closeLog) record(s *countingSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes[s]++
}

func (l *closeLog) snapshot() map[*countingSink]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[*countingSink]int, len(l.closes))
	for k, v := range l.closes {
		out[k] = v
	}
	return out
}

type countingSink struct {
	log      *closeLog
	accepted atomic.Int64
	fail     bool
}

func (s *countingSink) Accept(context.Context, any) error {
	if s.fail {
		return errors.New("destination unreachable")
	}
	s.accepted.Add(1)
	return nil
}

func (s *countingSink) Close(context.Context) error {
	s.log.record(s)
	return nil
}

type failingConfigureSink struct{ countingSink }

func (s *failingConfigureSink) Configure(context.Context, model.SinkTemplate, component.Dependencies) error {
	return errors.New("bad endpoint")
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *closeLog) {
	t.Helper()
	log := &closeLog{closes: make(map[*countingSink]int)}
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef: countingType,
		Kind:    component.KindSink,
		Factory: func() any { return &countingSink{log: log} },
	}))
	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef: failingType,
		Kind:    component.KindSink,
		Factory: func() any { return &failingConfigureSink{countingSink{log: log}} },
	}))
	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef: "test.handlers.NotASink",
		Kind:    component.KindHandler,
		Factory: func() any { return struct{}{} },
	}))
	return NewManager(append([]ManagerOption{WithRegistry(registry)}, opts...)...), log
}

func tmpl(name, class string) model.SinkTemplate {
	return model.SinkTemplate{Name: name, SinkClass: class, Properties: map[string]string{}}
}

func TestAddSink(t *testing.T) {
	m, _ := newTestManager(t)

	inst, err := m.AddSink(context.Background(), DummyTemplate())
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID())
	assert.Equal(t, "io.orchd.sinks.DummySink", inst.Template().Name)
	assert.IsType(t, &DummySink{}, inst.Sink())

	got, err := m.GetSinkByID(inst.ID())
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.Equal(t, 1, m.Len())

	second, err := m.AddSink(context.Background(), DummyTemplate())
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID(), second.ID(), "ids are fresh per instance")
}

func TestAddSinkFailures(t *testing.T) {
	tests := []struct {
		name   string
		class  string
		cause  pkgerrors.SinkCause
		reason *pkgerrors.ResolutionReason
	}{
		{"unknown namespace", "nowhere.Sink", pkgerrors.SinkResolutionFailed, ptr(pkgerrors.NamespaceNotFound)},
		{"unknown type", "test.sinks.Missing", pkgerrors.SinkResolutionFailed, ptr(pkgerrors.TypeNotFound)},
		{"wrong kind", "test.handlers.NotASink", pkgerrors.SinkResolutionFailed, ptr(pkgerrors.KindMismatch)},
		{"configure failure", failingType, pkgerrors.SinkConfigureFailed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			_, err := m.AddSink(context.Background(), tmpl("out.sink", tt.class))
			require.Error(t, err)

			var se *pkgerrors.SinkError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.cause, se.Cause)
			assert.Equal(t, "out.sink", se.Template)
			if tt.reason != nil {
				var re *pkgerrors.ResolutionError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, *tt.reason, re.Reason)
			}
			assert.Equal(t, 0, m.Len())
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreateSinksRollsBack(t *testing.T) {
	m, log := newTestManager(t)
	ctx := context.Background()

	existing, err := m.AddSink(ctx, tmpl("pre.existing", countingType))
	require.NoError(t, err)

	_, err = m.CreateSinks(ctx, []model.SinkTemplate{
		tmpl("sink.one", countingType),
		tmpl("sink.two", countingType),
		tmpl("sink.three", "test.sinks.Unresolvable"),
	})
	require.Error(t, err)

	var se *pkgerrors.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pkgerrors.SinkResolutionFailed, se.Cause)

	closes := log.snapshot()
	assert.Len(t, closes, 2, "both sinks created by the call are closed")
	for _, n := range closes {
		assert.Equal(t, 1, n)
	}
	assert.NotContains(t, closes, existing.Sink().(*countingSink))

	require.Equal(t, 1, m.Len())
	assert.Same(t, existing, m.Sinks()[0])
	assert.False(t, existing.Closed())
}

func TestCreateSinksEmptyManagerScenario(t *testing.T) {
	m, log := newTestManager(t)

	_, err := m.CreateSinks(context.Background(), []model.SinkTemplate{
		tmpl("sink.one", countingType),
		tmpl("sink.two", countingType),
		tmpl("sink.three", "test.sinks.Unresolvable"),
	})
	require.Error(t, err)
	assert.Len(t, log.snapshot(), 2)
	assert.Empty(t, m.Sinks())
}

func TestCreateSinksConfigureFailureRollsBack(t *testing.T) {
	m, log := newTestManager(t)

	_, err := m.CreateSinks(context.Background(), []model.SinkTemplate{
		tmpl("sink.one", countingType),
		tmpl("sink.bad", failingType),
	})
	var se *pkgerrors.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pkgerrors.SinkConfigureFailed, se.Cause)
	assert.Len(t, log.snapshot(), 1)
	assert.Equal(t, 0, m.Len())
}

func TestCreateSinksSuccess(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.CreateSinks(context.Background(), []model.SinkTemplate{
		tmpl("sink.one", countingType),
		tmpl("sink.two", countingType),
		DummyTemplate(),
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	sinks := m.Sinks()
	require.Len(t, sinks, 3)
	assert.Equal(t, "sink.one", sinks[0].Template().Name)
	assert.Equal(t, "sink.two", sinks[1].Template().Name)
	assert.Equal(t, "io.orchd.sinks.DummySink", sinks[2].Template().Name)
	for _, s := range sinks {
		assert.Contains(t, created, s.ID())
	}

	infos := m.Infos()
	require.Len(t, infos, 3)
	assert.Equal(t, sinks[0].ID(), infos[0].ID)
}

func TestRemoveSink(t *testing.T) {
	m, log := newTestManager(t)
	ctx := context.Background()

	a, err := m.AddSink(ctx, tmpl("sink.a", countingType))
	require.NoError(t, err)
	b, err := m.AddSink(ctx, tmpl("sink.b", countingType))
	require.NoError(t, err)

	err = m.RemoveSink(ctx, "unknown-id")
	var se *pkgerrors.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pkgerrors.SinkNotFound, se.Cause)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.RemoveSink(ctx, a.ID()))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, log.snapshot()[a.Sink().(*countingSink)])
	assert.Same(t, b, m.Sinks()[0])

	_, err = m.GetSinkByID(a.ID())
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pkgerrors.SinkNotFound, se.Cause)
}

func TestRemoveSinkWaitsForReservedDelivery(t *testing.T) {
	m, log := newTestManager(t)
	ctx := context.Background()

	inst, err := m.AddSink(ctx, tmpl("sink.a", countingType))
	require.NoError(t, err)
	cs := inst.Sink().(*countingSink)

	require.True(t, inst.Reserve())

	removed := make(chan error, 1)
	go func() { removed <- m.RemoveSink(ctx, inst.ID()) }()

	require.Eventually(t, func() bool {
		if inst.Reserve() {
			inst.Release()
			return false
		}
		return true
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Len())
	assert.False(t, inst.Closed())
	assert.Zero(t, log.snapshot()[cs])

	require.NoError(t, inst.Deliver(ctx, "scheduled"))
	inst.Release()

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RemoveSink did not return after the delivery finished")
	}
	assert.True(t, inst.Closed())
	assert.Equal(t, int64(1), cs.accepted.Load())
	assert.Equal(t, 1, log.snapshot()[cs])

	err = inst.Accept(ctx, "late")
	assert.ErrorIs(t, err, pkgerrors.ErrClosed)
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	m, log := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSinks(ctx, []model.SinkTemplate{tmpl("a.sink", countingType), tmpl("b.sink", countingType)})
	require.NoError(t, err)
	sinks := m.Sinks()

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, m.Len())

	closes := log.snapshot()
	for _, s := range sinks {
		assert.Equal(t, 1, closes[s.Sink().(*countingSink)])
		assert.True(t, s.Closed())
	}
}

func TestInstanceAcceptAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, _ := newTestManager(t, WithDependencies(component.Dependencies{MetricsRegistry: registry}))
	ctx := context.Background()

	ok, err := m.AddSink(ctx, tmpl("ok.sink", countingType))
	require.NoError(t, err)
	bad, err := m.AddSink(ctx, tmpl("bad.sink", countingType))
	require.NoError(t, err)
	bad.Sink().(*countingSink).fail = true

	require.NoError(t, ok.Accept(ctx, "x"))
	require.NoError(t, ok.Accept(ctx, "y"))
	require.Error(t, bad.Accept(ctx, "z"))

	assert.Equal(t, int64(2), ok.Info().Accepted)
	assert.Equal(t, int64(1), bad.Info().Failed)

	core := registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.SinkDeliveries.WithLabelValues(countingType, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SinkDeliveries.WithLabelValues(countingType, "error")))

	require.NoError(t, ok.Close(ctx))
	err = ok.Accept(ctx, "late")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrClosed)
	assert.Equal(t, int64(2), ok.Sink().(*countingSink).accepted.Load())
}

func TestDummySink(t *testing.T) {
	m, _ := newTestManager(t)
	inst, err := m.AddSink(context.Background(), DummyTemplate())
	require.NoError(t, err)

	require.NoError(t, inst.Accept(context.Background(), map[string]any{"k": "v"}))
	d := inst.Sink().(*DummySink)
	assert.Equal(t, int64(1), d.Accepted())

	tmpl := DummyTemplate()
	assert.Equal(t, "0.1", tmpl.Version)
	assert.Equal(t, "https://example.com/test", tmpl.Properties["endpoint"])
	assert.NoError(t, tmpl.Validate())
}
