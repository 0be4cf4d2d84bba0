package natscomm

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/orchd/bus"
	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/pkg/clock"
)

// Replier is the subset of natsclient.Client used by the Receiver.
type Replier interface {
	Reply(ctx context.Context, subject string, handler func(context.Context, []byte) ([]byte, error)) error
}

// Receiver publishes events arriving from remote communicators into a
// local bus.
type Receiver struct {
	bus    *bus.Bus
	codec  codec.Codec
	clock  clock.Lamport
	logger *slog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// NewReceiver creates a receiver that publishes into b.
func NewReceiver(b *bus.Bus, c codec.Codec, logger *slog.Logger) *Receiver {
	if b == nil {
		b = bus.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{bus: b, codec: c, logger: logger.With("component", "nats-receiver")}
}

// Listen answers requests and plain publishes on subject until the
// replier's connection closes.
func (r *Receiver) Listen(ctx context.Context, rep Replier, subject string) error {
	if err := rep.Reply(ctx, subject, r.Handle); err != nil {
		return errors.WrapTransient(err, "Receiver", "Listen", "subscribe to "+subject)
	}
	r.logger.Info("Receiving remote sensor events", "subject", subject)
	return nil
}

// Handle decodes one envelope, merges its clock and publishes the event.
// The returned ack carries the merged clock.
func (r *Receiver) Handle(ctx context.Context, data []byte) ([]byte, error) {
	e, env, err := codec.DecodeEvent(r.codec, data)
	if err != nil {
		r.rejected.Add(1)
		r.logger.Warn("Dropping undecodable envelope", "error", err)
		return nil, err
	}
	now := r.clock.Sync(env.Clock)
	r.received.Add(1)
	r.bus.Publish(ctx, e)
	return r.codec.Marshal(Ack{Clock: now})
}

// Clock returns the receiver's Lamport time.
func (r *Receiver) Clock() uint64 { return r.clock.Time() }

// Stats returns received and rejected envelope counts.
func (r *Receiver) Stats() (received, rejected int64) {
	return r.received.Load(), r.rejected.Load()
}
