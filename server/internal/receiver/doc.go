// Package receiver is the gRPC endpoint that accepts pushed telemetry.
//
// The Ingest service has one client-streaming method. A pusher sends
// telemetry.UpdateBatch messages in race order and, once it closes its
// side, receives an Ack with the number accepted. Messages travel as JSON
// under the "json" content subtype; the codec is registered with
// grpc/encoding when the package loads, so no generated code is involved.
//
// Receiver implements session.Source: batches accepted by Stream are
// handed to the session runner through Next. A batch with no session key,
// a foreign session key, a negative lap or no content ends the stream with
// codes.InvalidArgument.
//
// StreamAPIKey enforces an API key from gRPC metadata and StreamLogging
// logs each stream and converts handler panics into codes.Internal. Push is
// the client side, used by cmd/push.
package receiver
