// Package bus is the in-process publish/subscribe bus that routes events
// from sensors to reactions.
//
// Publish delivers synchronously on the caller's goroutine, in registration
// order, to the subscribers registered when Publish began. A subscriber
// that returns an error or panics is logged, counted and reported to the
// error handler; delivery to the remaining subscribers continues.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
)

// Subscriber receives published events.
type Subscriber interface {
	OnEvent(ctx context.Context, e model.Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e model.Event) error

// OnEvent calls f.
func (f SubscriberFunc) OnEvent(ctx context.Context, e model.Event) error {
	return f(ctx, e)
}

// ErrorHandler is told about every isolated subscriber failure.
type ErrorHandler func(sub *Subscription, e model.Event, err error)

// Bus routes events to registered subscribers.
type Bus struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
	onError ErrorHandler

	mu     sync.RWMutex
	subs   []*Subscription
	nextID atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(b *Bus) { b.name = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records publish and failure counts in the registry's core
// metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) { b.metrics = registry.CoreMetrics() }
}

// WithErrorHandler sets a callback for isolated subscriber failures.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(b *Bus) { b.onError = fn }
}

// New creates an independent bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		name:   "default",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bus", "bus", b.name)
	return b
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the process-wide bus. It lives for the whole process.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Register appends sub to the subscriber list. The returned handle is the
// only way to unsubscribe.
func (b *Bus) Register(sub Subscriber) *Subscription {
	s := &Subscription{
		id:  b.nextID.Add(1),
		sub: sub,
		bus: b,
	}
	s.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, s)
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.RecordSubscribers(b.name, n)
	b.logger.Debug("Subscriber registered", "subscription_id", s.id, "subscribers", n)
	return s
}

// Publish delivers e to every subscriber registered at call time.
func (b *Bus) Publish(ctx context.Context, e model.Event) {
	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	b.metrics.RecordEventPublished(b.name)

	for _, s := range snapshot {
		if !s.Active() {
			continue
		}
		if err := b.deliver(ctx, s, e); err != nil {
			b.metrics.RecordSubscriberError(b.name)
			b.logger.Warn("Subscriber failed",
				"subscription_id", s.id,
				"event", e.Name(),
				"event_id", e.ID(),
				"error", err)
			if b.onError != nil {
				b.onError(s, e, err)
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, e model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.sub.OnEvent(ctx, e)
}

// RemoveAll unsubscribes every subscriber. Subscribers are not closed.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
	}
	b.metrics.RecordSubscribers(b.name, 0)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur == s {
			subs := make([]*Subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			break
		}
	}
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.RecordSubscribers(b.name, n)
}

// Subscription is the handle returned by Register.
type Subscription struct {
	id     uint64
	sub    Subscriber
	bus    *Bus
	active atomic.Bool
}

// ID returns the subscription id, unique within its bus.
func (s *Subscription) ID() uint64 { return s.id }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe stops delivery to the subscriber. It is idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.remove(s)
	s.bus.logger.Debug("Subscriber removed", "subscription_id", s.id)
}
