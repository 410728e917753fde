// Package backtest scores the runner's recommendations against what the
// drivers actually did in a replayed session.
//
// A Recorder observes every lap the runner publishes. It keeps one Call
// each time a driver's recommended action changes, the pit stops seen in
// the telemetry and each driver's position per lap. Score turns those into
// a Report: decision accuracy, how far the ideal pit lap was from the real
// stop, and the positions gained over the lap after each call.
package backtest
