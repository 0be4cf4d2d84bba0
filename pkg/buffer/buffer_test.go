package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
)

func TestNewRing_InvalidCapacity(t *testing.T) {
	_, err := NewRing[int](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRing_FIFO(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		dropped, err := r.Write(i)
		require.NoError(t, err)
		assert.False(t, dropped)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{1, 2}, r.ReadBatch(2))
	assert.Equal(t, []int{3}, r.ReadBatch(10))
	assert.Nil(t, r.ReadBatch(10))
	assert.Nil(t, r.ReadBatch(0))
}

func TestRing_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy OverflowPolicy
		want   []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}},
		{"drop newest", DropNewest, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRing[int](3, WithOverflowPolicy(tt.policy))
			require.NoError(t, err)

			drops := 0
			for i := 1; i <= 5; i++ {
				dropped, err := r.Write(i)
				require.NoError(t, err)
				if dropped {
					drops++
				}
			}
			assert.Equal(t, 2, drops)
			assert.Equal(t, tt.want, r.ReadBatch(10))

			stats := r.Stats()
			assert.Equal(t, int64(2), stats.Drops)
			assert.Equal(t, int64(3), stats.Reads)
			assert.Zero(t, stats.Size)
		})
	}
}

func TestRing_Notify(t *testing.T) {
	r, err := NewRing[string](2)
	require.NoError(t, err)

	_, _ = r.Write("a")
	_, _ = r.Write("b")
	select {
	case <-r.Notify():
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-r.Notify():
		t.Fatal("notifications must coalesce")
	default:
	}
}

func TestRing_Close(t *testing.T) {
	r, err := NewRing[int](2)
	require.NoError(t, err)
	_, _ = r.Write(1)
	require.NoError(t, r.Close())

	_, err = r.Write(2)
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.Equal(t, []int{1}, r.ReadBatch(5))
}

func TestRing_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	r, err := NewRing[int](1, WithMetrics(reg, "udp_test"))
	require.NoError(t, err)

	_, _ = r.Write(1)
	_, _ = r.Write(2)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "orchd_buffer_drops_total" {
			found = true
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)

	_, err = NewRing[int](1, WithMetrics(reg, "udp_test"))
	assert.Error(t, err, "duplicate registration must fail")
}

func TestRing_Concurrent(t *testing.T) {
	r, err := NewRing[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = r.Write(i)
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, int64(400), stats.Writes)
	assert.Equal(t, int64(400-64), stats.Drops)
	assert.Equal(t, 64, stats.Size)
}
