// Package clock provides logical clocks for ordering events emitted by
// sensors on different hosts.
package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Lamport is a scalar logical clock. The zero value is ready to use.
type Lamport struct {
	time atomic.Uint64
}

// Time returns the current clock value.
func (l *Lamport) Time() uint64 {
	return l.time.Load()
}

// Tick advances the clock for a local event and returns the new value.
func (l *Lamport) Tick() uint64 {
	return l.time.Add(1)
}

// Sync merges a remote timestamp: the clock becomes max(local, remote)+1.
func (l *Lamport) Sync(remote uint64) uint64 {
	for {
		cur := l.time.Load()
		next := max(cur, remote) + 1
		if l.time.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Vector is a vector clock over a fixed number of processes.
type Vector struct {
	mu    sync.Mutex
	clock []uint64
}

// NewVector creates a vector clock with size entries.
func NewVector(size int) *Vector {
	return &Vector{clock: make([]uint64, size)}
}

// Clock returns a copy of the current vector.
func (v *Vector) Clock() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]uint64, len(v.clock))
	copy(out, v.clock)
	return out
}

// Tick advances the entry of process i.
func (v *Vector) Tick(i int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.clock) {
		return fmt.Errorf("clock: index %d out of range [0,%d)", i, len(v.clock))
	}
	v.clock[i]++
	return nil
}

// Sync merges other element-wise by maximum.
func (v *Vector) Sync(other []uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(other) != len(v.clock) {
		return fmt.Errorf("clock: size mismatch %d != %d", len(other), len(v.clock))
	}
	for i := range v.clock {
		v.clock[i] = max(v.clock[i], other[i])
	}
	return nil
}

// Compare reports whether a happened before b (-1), after b (1), or the
// two are equal or concurrent (0). The second result is true when the
// vectors are concurrent.
func Compare(a, b []uint64) (order int, concurrent bool) {
	if len(a) != len(b) {
		return 0, true
	}
	less, greater := false, false
	for i := range a {
		switch {
		case a[i] < b[i]:
			less = true
		case a[i] > b[i]:
			greater = true
		}
	}
	switch {
	case less && greater:
		return 0, true
	case less:
		return -1, false
	case greater:
		return 1, false
	default:
		return 0, false
	}
}
