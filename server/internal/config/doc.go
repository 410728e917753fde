// Package config loads config.yaml for the pitwall server.
//
// Sections:
//   - server      HTTP port and WebSocket heartbeat interval
//   - session     session identity, replay file, pacing, focus driver
//   - strategy    pit loss, minimum stint and prediction horizon
//   - degradation estimator settings and optional compound priors
//   - monte_carlo trial counts, parallelism and event probabilities
//   - physics     fuel, track evolution and dirty-air constants
//   - traffic     close-gap thresholds for lap filtering
//   - tracks      per-circuit overrides merged by ForTrack
//   - alerts      rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates. A Watcher
// reloads the file after a burst of writes settles and hands the callback
// the track-resolved Config only when it validates and differs from the one
// in effect.
package config
