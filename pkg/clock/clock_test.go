package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamport(t *testing.T) {
	var l Lamport
	assert.Equal(t, uint64(0), l.Time())

	assert.Equal(t, uint64(1), l.Tick())
	assert.Equal(t, uint64(11), l.Sync(10))
	assert.Equal(t, uint64(12), l.Sync(3), "older remote still advances")
}

func TestLamport_Concurrent(t *testing.T) {
	var l Lamport
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Tick()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(50), l.Time())
}

func TestVector(t *testing.T) {
	v := NewVector(3)
	require.NoError(t, v.Tick(0))
	require.NoError(t, v.Tick(0))
	require.NoError(t, v.Sync([]uint64{1, 4, 0}))
	assert.Equal(t, []uint64{2, 4, 0}, v.Clock())

	assert.Error(t, v.Tick(3))
	assert.Error(t, v.Sync([]uint64{1}))

	snapshot := v.Clock()
	snapshot[0] = 99
	assert.Equal(t, uint64(2), v.Clock()[0])
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name       string
		a, b       []uint64
		order      int
		concurrent bool
	}{
		{"equal", []uint64{1, 2}, []uint64{1, 2}, 0, false},
		{"before", []uint64{1, 2}, []uint64{2, 2}, -1, false},
		{"after", []uint64{3, 2}, []uint64{2, 2}, 1, false},
		{"concurrent", []uint64{3, 1}, []uint64{2, 2}, 0, true},
		{"size mismatch", []uint64{1}, []uint64{1, 2}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, concurrent := Compare(tt.a, tt.b)
			assert.Equal(t, tt.order, order)
			assert.Equal(t, tt.concurrent, concurrent)
		})
	}
}
