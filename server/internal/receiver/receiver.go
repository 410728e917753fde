package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/session"
)

// DefaultBuffer is how many accepted batches may wait for the runner
// before streams block.
const DefaultBuffer = 64

// Receiver accepts batches over the Ingest service and serves them to the
// session runner in arrival order.
type Receiver struct {
	sessionKey string
	batches    chan telemetry.UpdateBatch
	done       chan struct{}
	closeOnce  sync.Once
	metrics    *metrics.Registry
}

var (
	_ IngestServer   = (*Receiver)(nil)
	_ session.Source = (*Receiver)(nil)
)

// New creates a Receiver for sessionKey; an empty key accepts any session.
// buffer <= 0 uses DefaultBuffer. reg may be nil.
func New(sessionKey string, buffer int, reg *metrics.Registry) *Receiver {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Receiver{
		sessionKey: sessionKey,
		batches:    make(chan telemetry.UpdateBatch, buffer),
		done:       make(chan struct{}),
		metrics:    reg,
	}
}

// Stream is the client-streaming handler. It queues each valid batch and
// replies with an Ack when the client closes its side.
func (r *Receiver) Stream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	var ack Ack
	for {
		var b telemetry.UpdateBatch
		err := stream.RecvMsg(&b)
		if errors.Is(err, io.EOF) {
			slog.Info("receiver: stream closed", "accepted", ack.Accepted, "last_lap", ack.LastLap)
			return stream.SendMsg(&ack)
		}
		if err != nil {
			return err
		}
		select {
		case <-r.done:
			return status.Error(codes.Unavailable, "receiver closed")
		default:
		}
		if err := r.validate(b); err != nil {
			r.metrics.BatchesRejected.Inc()
			return status.Errorf(codes.InvalidArgument, "batch %d: %v", ack.Accepted+1, err)
		}

		select {
		case r.batches <- b:
		case <-r.done:
			return status.Error(codes.Unavailable, "receiver closed")
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
		ack.Accepted++
		ack.LastLap = b.CurrentLap
		r.metrics.BatchesReceived.Inc()

		slog.Debug("receiver: batch queued",
			"session_key", b.SessionKey,
			"lap", b.CurrentLap,
			"laps", len(b.Laps),
			"pits", len(b.Pits),
		)
	}
}

func (r *Receiver) validate(b telemetry.UpdateBatch) error {
	switch {
	case b.SessionKey == "":
		return errors.New("session_key is required")
	case r.sessionKey != "" && b.SessionKey != r.sessionKey:
		return fmt.Errorf("session_key %q does not match %q", b.SessionKey, r.sessionKey)
	case b.CurrentLap < 0:
		return fmt.Errorf("current_lap %d is negative", b.CurrentLap)
	case b.Empty():
		return errors.New("batch is empty")
	}
	return nil
}

// Next blocks until a batch arrives. After Close it drains what is queued
// and then returns io.EOF.
func (r *Receiver) Next(ctx context.Context) (telemetry.UpdateBatch, error) {
	select {
	case b := <-r.batches:
		return b, nil
	case <-ctx.Done():
		return telemetry.UpdateBatch{}, ctx.Err()
	case <-r.done:
	}
	select {
	case b := <-r.batches:
		return b, nil
	default:
		return telemetry.UpdateBatch{}, io.EOF
	}
}

// Close ends the session: open streams fail with codes.Unavailable and Next
// returns io.EOF once the queue is empty.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
