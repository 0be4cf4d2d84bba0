// Package buffer provides a bounded, thread-safe ring with an overflow
// policy. Inputs use it to decouple socket reads from sensing.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
)

// OverflowPolicy defines how the ring behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota
	// DropNewest drops new items when the ring is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Stats is a snapshot of ring counters.
type Stats struct {
	Writes int64
	Reads  int64
	Drops  int64
	Size   int
}

// Option configures a Ring.
type Option func(*options)

type options struct {
	policy     OverflowPolicy
	registry   *metric.MetricsRegistry
	metricName string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics exports drops and size under the given name. A nil registry
// disables metrics.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *options) {
		if registry != nil && name != "" {
			o.registry = registry
			o.metricName = name
		}
	}
}

// Ring is a fixed-capacity FIFO.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	tail   int
	size   int
	closed bool
	policy OverflowPolicy
	notify chan struct{}

	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64

	dropCounter prometheus.Counter
	sizeGauge   prometheus.Gauge
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int, opts ...Option) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Ring", "NewRing", "capacity must be positive")
	}
	o := options{policy: DropOldest}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Ring[T]{
		items:  make([]T, capacity),
		policy: o.policy,
		notify: make(chan struct{}, 1),
	}

	if o.registry != nil {
		r.dropCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orchd",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"buffer": o.metricName},
			Help:        "Items dropped due to overflow",
		})
		r.sizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "orchd",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"buffer": o.metricName},
			Help:        "Items currently buffered",
		})
		if err := o.registry.RegisterCounter(o.metricName, "drops", r.dropCounter); err != nil {
			return nil, errors.WrapTransient(err, "Ring", "NewRing", "metrics registration")
		}
		if err := o.registry.RegisterGauge(o.metricName, "size", r.sizeGauge); err != nil {
			o.registry.Unregister(o.metricName, "drops")
			return nil, errors.WrapTransient(err, "Ring", "NewRing", "metrics registration")
		}
	}
	return r, nil
}

// Write adds an item. It reports whether an item was dropped to make room
// or, under DropNewest, whether item itself was dropped.
func (r *Ring[T]) Write(item T) (dropped bool, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, errors.WrapInvalid(errors.ErrClosed, "Ring", "Write", "write to closed ring")
	}

	if r.size == len(r.items) {
		dropped = true
		r.drops.Add(1)
		if r.dropCounter != nil {
			r.dropCounter.Inc()
		}
		if r.policy == DropNewest {
			r.mu.Unlock()
			return true, nil
		}
		var zero T
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.items)
		r.size--
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.writes.Add(1)
	r.observeSize()
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

// ReadBatch removes up to max items in FIFO order.
func (r *Ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.size)
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	var zero T
	for i := range n {
		out[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.items)
	}
	r.size -= n
	r.reads.Add(int64(n))
	r.observeSize()
	return out
}

// Notify returns a channel that receives after a write. Wake-ups may be
// coalesced, so readers drain with ReadBatch.
func (r *Ring[T]) Notify() <-chan struct{} { return r.notify }

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Writes: r.writes.Load(),
		Reads:  r.reads.Load(),
		Drops:  r.drops.Load(),
		Size:   r.Len(),
	}
}

// Close rejects further writes. Buffered items can still be read.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Ring[T]) observeSize() {
	if r.sizeGauge != nil {
		r.sizeGauge.Set(float64(r.size))
	}
}
