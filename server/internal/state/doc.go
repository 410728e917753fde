// Package state owns the canonical race state.
//
// types.go defines the RaceState and DriverState value types. A published
// RaceState is never mutated: every change produces a copy whose drivers map
// and event slices are cloned on write, so older snapshots held by readers
// and subscribers stay valid.
//
// reducers.go holds the pure functions that fold an UpdateBatch into a
// RaceState. Reducers never fail; malformed records are skipped.
//
// store.go provides Store, the single owner of the current state. Writers are
// serialized, readers get the latest snapshot without locking, and
// subscribers are notified asynchronously so a slow one cannot stall Apply.
//
// snapshot.go renders the JSON snapshot contract. Non-finite floats are
// emitted as null.
package state
