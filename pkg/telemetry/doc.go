// Package telemetry defines the provider-agnostic UpdateBatch model shared by
// the ingestion layer and the pitwall server. An UpdateBatch is one slice of
// new telemetry: any subset of driver, lap, position, interval, stint, pit and
// race-control records, stamped with the session key and a timestamp.
//
// These are plain value types with snake_case JSON tags so recorded sessions
// can be replayed from JSON-lines files.
package telemetry
