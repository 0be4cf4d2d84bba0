// Package sink provides the Sink capability, the runtime Instance wrapping
// a provisioned sink, and the Manager that owns a reaction's sinks.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
)

// Sink delivers handler output somewhere. Close must be safe to call more
// than once.
type Sink interface {
	Accept(ctx context.Context, data any) error
	Close(ctx context.Context) error
}

// Configurable is implemented by sinks that read their template. Configure
// is called once after resolution; a sink that fails must release whatever
// it acquired before returning.
type Configurable interface {
	Configure(ctx context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error
}

// Instance is a provisioned sink owned by one Manager.
type Instance struct {
	id       string
	template model.SinkTemplate
	sink     Sink
	logger   *slog.Logger
	metrics  *metric.Metrics

	accepted atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	closing bool
	pending sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewInstance wraps s with a fresh id.
func NewInstance(tmpl model.SinkTemplate, s Sink, deps component.Dependencies) *Instance {
	id := uuid.NewString()
	return &Instance{
		id:       id,
		template: tmpl.Clone(),
		sink:     s,
		logger:   deps.GetLoggerWithComponent("sink").With("sink_id", id, "sink_class", tmpl.SinkClass),
		metrics:  deps.CoreMetrics(),
	}
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// Template returns a copy of the template the sink was created from.
func (i *Instance) Template() model.SinkTemplate { return i.template.Clone() }

// Sink returns the underlying sink.
func (i *Instance) Sink() Sink { return i.sink }

// Closed reports whether the underlying sink has been closed.
func (i *Instance) Closed() bool { return i.closed.Load() }

// Reserve registers a delivery that will later call Deliver. Close waits
// until every reservation is released. Reserve returns false once Close
// has begun.
func (i *Instance) Reserve() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closing {
		return false
	}
	i.pending.Add(1)
	return true
}

// Release ends a reservation taken with Reserve.
func (i *Instance) Release() { i.pending.Done() }

// Accept forwards data to the sink and records the outcome.
func (i *Instance) Accept(ctx context.Context, data any) error {
	if !i.Reserve() {
		return i.rejectClosed("Accept")
	}
	defer i.Release()
	return i.deliver(ctx, data)
}

// Deliver is Accept for a caller that already holds a reservation.
func (i *Instance) Deliver(ctx context.Context, data any) error {
	if i.closed.Load() {
		return i.rejectClosed("Deliver")
	}
	return i.deliver(ctx, data)
}

func (i *Instance) rejectClosed(method string) error {
	i.failed.Add(1)
	i.metrics.RecordSinkDelivery(i.template.SinkClass, "closed", 0)
	return errors.WrapInvalid(errors.ErrClosed, "Instance", method, "deliver to "+i.id)
}

func (i *Instance) deliver(ctx context.Context, data any) error {
	start := time.Now()
	err := i.sink.Accept(ctx, data)
	if err != nil {
		i.failed.Add(1)
		i.metrics.RecordSinkDelivery(i.template.SinkClass, "error", time.Since(start))
		return err
	}
	i.accepted.Add(1)
	i.metrics.RecordSinkDelivery(i.template.SinkClass, "success", time.Since(start))
	return nil
}

// Close refuses new deliveries, waits for reserved and running ones, then
// closes the underlying sink at most once. Later calls return the result
// of the first.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		i.closing = true
		i.mu.Unlock()
		if err := i.waitPending(ctx); err != nil {
			i.logger.Warn("Closing with deliveries still pending", "error", err)
		}

		i.closed.Store(true)
		if err := i.sink.Close(ctx); err != nil {
			i.closeErr = &errors.SinkError{
				SinkID:   i.id,
				Template: i.template.Name,
				Cause:    errors.SinkCloseFailed,
				Err:      err,
			}
			i.logger.Warn("Sink close failed", "error", err)
			return
		}
		i.logger.Debug("Sink closed")
	})
	return i.closeErr
}

func (i *Instance) waitPending(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns a snapshot of the instance.
func (i *Instance) Info() model.SinkInfo {
	return model.SinkInfo{
		ID:       i.id,
		Template: i.Template(),
		Accepted: i.accepted.Load(),
		Failed:   i.failed.Load(),
		Closed:   i.closed.Load(),
	}
}

func (i *Instance) String() string {
	return fmt.Sprintf("Sink(%s, %s)", i.template.SinkClass, i.id)
}
