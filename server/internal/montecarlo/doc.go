// Package montecarlo estimates finishing-position distributions by sampling
// race continuations.
//
// SimulateRace runs independent trials for one driver against a field of
// competitors, each trial seeded with base+index so any run can be
// reproduced from its Outcome.Seed. Large runs fan out over a bounded
// errgroup and fall back to a sequential pass if a worker fails. The
// package also carries the lap-time physics and the rival pit heuristics
// used by the whole-grid simulation.
package montecarlo
