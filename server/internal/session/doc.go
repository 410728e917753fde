// Package session drives one race session lap by lap.
//
// A Runner pulls UpdateBatch values from a Source, applies them to the
// state store, feeds completed laps to the degradation models, and
// evaluates the decision engine for every driver. It is the only writer to
// its store and checks for cancellation once per lap.
package session
