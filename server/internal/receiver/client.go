package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/pitwall/pitwall/server/internal/session"
)

// Push streams every batch of src to the Ingest service on conn and
// returns the server's Ack. A batch the server rejects surfaces as the
// stream's status error.
func Push(ctx context.Context, conn grpc.ClientConnInterface, src session.Source, opts ...grpc.CallOption) (Ack, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod, opts...)
	if err != nil {
		return Ack{}, fmt.Errorf("receiver: open stream: %w", err)
	}

	sent := 0
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Ack{}, fmt.Errorf("receiver: read batch %d: %w", sent+1, err)
		}
		if err := stream.SendMsg(&b); err != nil {
			// io.EOF means the server ended the stream; RecvMsg has the status.
			if errors.Is(err, io.EOF) {
				break
			}
			return Ack{}, fmt.Errorf("receiver: send batch %d: %w", sent+1, err)
		}
		sent++
	}
	if err := stream.CloseSend(); err != nil {
		return Ack{}, fmt.Errorf("receiver: close send: %w", err)
	}

	var ack Ack
	if err := stream.RecvMsg(&ack); err != nil {
		return Ack{}, fmt.Errorf("receiver: after %d batches: %w", sent, err)
	}
	slog.Debug("receiver: push acknowledged", "sent", sent, "accepted", ack.Accepted, "last_lap", ack.LastLap)
	return ack, nil
}
