// Command push streams a JSON-lines telemetry recording to a pitwall
// server's gRPC ingest port, as a live feed would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/receiver"
	"github.com/pitwall/pitwall/server/internal/session"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "pitwall ingest address")
	replayPath := flag.String("replay", "", "JSON-lines telemetry recording to send")
	keyEnv := flag.String("key-env", "", "environment variable holding the ingest API key")
	interval := flag.Duration("interval", 0, "pause between batches; 0 sends as fast as possible")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := push(*addr, *replayPath, os.Getenv(*keyEnv), *interval); err != nil {
		slog.Error("push failed", "err", err)
		os.Exit(1)
	}
}

func push(addr, replayPath, key string, interval time.Duration) error {
	if replayPath == "" {
		return errors.New("-replay is required")
	}
	src, err := session.NewReplay(replayPath)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, receiver.APIKeyHeader, key)
	}

	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials())) //nolint:staticcheck
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	start := time.Now()
	ack, err := receiver.Push(ctx, conn, paced(src, interval))
	if err != nil {
		return err
	}
	slog.Info("push complete", "addr", addr, "accepted", ack.Accepted, "last_lap", ack.LastLap, "took", time.Since(start))
	return nil
}

// paced delays every batch after the first by interval.
func paced(src session.Source, interval time.Duration) session.Source {
	if interval <= 0 {
		return src
	}
	return &pacedSource{src: src, interval: interval}
}

type pacedSource struct {
	src      session.Source
	interval time.Duration
	started  bool
}

func (p *pacedSource) Next(ctx context.Context) (telemetry.UpdateBatch, error) {
	if p.started {
		t := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return telemetry.UpdateBatch{}, ctx.Err()
		case <-t.C:
		}
	}
	p.started = true
	return p.src.Next(ctx)
}
