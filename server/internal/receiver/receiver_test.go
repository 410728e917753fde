package receiver_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/degradation"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/receiver"
	"github.com/pitwall/pitwall/server/internal/session"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

// startServer serves a Receiver for session 9472 on a random port and
// returns a connection to it.
func startServer(t *testing.T, key string) (*grpc.ClientConn, *receiver.Receiver, *metrics.Registry) {
	t.Helper()

	reg := metrics.New()
	rec := receiver.New("9472", 8, reg)

	srv := grpc.NewServer(grpc.ChainStreamInterceptor(
		receiver.StreamLogging(),
		receiver.StreamAPIKey(receiver.APIKeyHeader, key),
	))
	receiver.Register(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, rec, reg
}

// batches is a session.Source over a fixed list.
type batches []telemetry.UpdateBatch

func (b *batches) Next(ctx context.Context) (telemetry.UpdateBatch, error) {
	if len(*b) == 0 {
		return telemetry.UpdateBatch{}, io.EOF
	}
	next := (*b)[0]
	*b = (*b)[1:]
	return next, nil
}

func laps(n int) *batches {
	t0 := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	out := make(batches, 0, n)
	for lap := 1; lap <= n; lap++ {
		ts := t0.Add(time.Duration(lap*90) * time.Second)
		b := telemetry.UpdateBatch{SessionKey: "9472", Timestamp: ts, CurrentLap: lap}
		if lap == 1 {
			b.Drivers = []telemetry.DriverInfo{{DriverNumber: 44, NameAcronym: "HAM"}}
			b.Stints = []telemetry.StintRecord{{DriverNumber: 44, StintNumber: 1, Compound: "MEDIUM", LapStart: 1}}
		}
		b.Positions = []telemetry.PositionRecord{{DriverNumber: 44, Position: 1, Timestamp: ts}}
		b.Laps = []telemetry.LapRecord{{DriverNumber: 44, LapNumber: lap, LapDuration: telemetry.Float(92 + 0.05*float64(lap)), Timestamp: ts}}
		out = append(out, b)
	}
	return &out
}

func TestPush_DeliversBatchesInOrder(t *testing.T) {
	conn, rec, reg := startServer(t, "")

	ack, err := receiver.Push(context.Background(), conn, laps(3))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if ack.Accepted != 3 || ack.LastLap != 3 {
		t.Errorf("Ack: got %+v, want 3 accepted up to lap 3", ack)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for want := 1; want <= 3; want++ {
		b, err := rec.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if b.CurrentLap != want || len(b.Laps) != 1 || *b.Laps[0].LapDuration <= 92 {
			t.Errorf("batch %d: got lap %d with %+v", want, b.CurrentLap, b.Laps)
		}
	}
	if got := reg.BatchesReceived.Value(); got != 3 {
		t.Errorf("BatchesReceived: got %d, want 3", got)
	}
}

func TestPush_InvalidBatch_InvalidArgument(t *testing.T) {
	conn, rec, reg := startServer(t, "")

	src := laps(3)
	(*src)[1].SessionKey = "1234"
	_, err := receiver.Push(context.Background(), conn, src)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("code: got %v, want InvalidArgument (%v)", code, err)
	}
	if got := reg.BatchesRejected.Value(); got != 1 {
		t.Errorf("BatchesRejected: got %d, want 1", got)
	}

	// The batch before the bad one was kept.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if b, err := rec.Next(ctx); err != nil || b.CurrentLap != 1 {
		t.Errorf("Next: got lap %d, %v; want lap 1", b.CurrentLap, err)
	}
}

func TestPush_APIKey(t *testing.T) {
	conn, _, _ := startServer(t, "s3cret")

	tests := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"no key", context.Background(), codes.Unauthenticated},
		{"wrong key", metadata.AppendToOutgoingContext(context.Background(), receiver.APIKeyHeader, "nope"), codes.Unauthenticated},
		{"right key", metadata.AppendToOutgoingContext(context.Background(), receiver.APIKeyHeader, "s3cret"), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := receiver.Push(tt.ctx, conn, laps(2))
			if code := status.Code(err); code != tt.want {
				t.Errorf("code: got %v, want %v (%v)", code, tt.want, err)
			}
		})
	}
}

func TestReceiver_CloseDrainsThenEOF(t *testing.T) {
	conn, rec, _ := startServer(t, "")
	if _, err := receiver.Push(context.Background(), conn, laps(2)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ctx := context.Background()
	for want := 1; want <= 2; want++ {
		if b, err := rec.Next(ctx); err != nil || b.CurrentLap != want {
			t.Fatalf("Next after Close: got lap %d, %v; want %d", b.CurrentLap, err, want)
		}
	}
	if _, err := rec.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("drained Next: got %v, want io.EOF", err)
	}

	_, err := receiver.Push(ctx, conn, laps(1))
	if code := status.Code(err); code != codes.Unavailable {
		t.Errorf("Push after Close: got %v, want Unavailable", code)
	}
}

func TestReceiver_NextHonoursContext(t *testing.T) {
	rec := receiver.New("", 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rec.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next: got %v, want context.DeadlineExceeded", err)
	}
}

func TestReceiver_FeedsRunner(t *testing.T) {
	conn, rec, _ := startServer(t, "")

	st := state.NewStore(state.New("9472", 57))
	defer st.Close()
	runner := session.NewRunner(session.Config{}, rec, st,
		degradation.NewManager(degradation.DefaultModelConfig(), nil), nil,
		session.Tuning{Strategy: strategy.DefaultTuning()})

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	if _, err := receiver.Push(context.Background(), conn, laps(4)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for st.Get().CurrentLap != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("runner at lap %d, want 4", st.Get().CurrentLap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d := st.Get().Drivers[44]; d.PitRecommendation == "" {
		t.Error("pushed laps produced no recommendation")
	}

	rec.Close()
	if err := <-done; err != nil {
		t.Errorf("Run after Close: %v", err)
	}
}

// fakeStream is the minimum grpc.ServerStream an interceptor needs.
type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamLogging_RecoversPanic(t *testing.T) {
	i := receiver.StreamLogging()
	info := &grpc.StreamServerInfo{FullMethod: receiver.StreamMethod, IsClientStream: true}

	err := i(nil, fakeStream{ctx: context.Background()}, info, func(interface{}, grpc.ServerStream) error {
		panic("boom")
	})
	if code := status.Code(err); code != codes.Internal {
		t.Errorf("panic: got %v, want Internal", code)
	}

	want := status.Error(codes.InvalidArgument, "bad")
	err = i(nil, fakeStream{ctx: context.Background()}, info, func(interface{}, grpc.ServerStream) error {
		return want
	})
	if err != want {
		t.Errorf("handler error: got %v, want it unchanged", err)
	}
}

func TestStreamAPIKey(t *testing.T) {
	pass := func(interface{}, grpc.ServerStream) error { return nil }
	info := &grpc.StreamServerInfo{FullMethod: receiver.StreamMethod}
	withKey := func(k string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(receiver.APIKeyHeader, k))
	}

	tests := []struct {
		name string
		key  string
		ctx  context.Context
		want codes.Code
	}{
		{"auth disabled", "", context.Background(), codes.OK},
		{"correct key", "k1", withKey("k1"), codes.OK},
		{"wrong key", "k1", withKey("k2"), codes.Unauthenticated},
		{"empty metadata", "k1", metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		{"no metadata", "k1", context.Background(), codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := receiver.StreamAPIKey(receiver.APIKeyHeader, tt.key)(nil, fakeStream{ctx: tt.ctx}, info, pass)
			if code := status.Code(err); code != tt.want {
				t.Errorf("code: got %v, want %v", code, tt.want)
			}
		})
	}
}
