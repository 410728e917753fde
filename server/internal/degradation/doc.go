// Package degradation estimates tyre degradation online, one lap at a time.
//
// rls.go is a two-feature recursive least squares estimator for
// lap_time = base_pace + deg_slope * lap_in_stint, with a forgetting factor
// so the fit follows a change in tyre behaviour mid-stint.
//
// priors.go holds the per-compound warm-start table. Unknown compounds fall
// back to MEDIUM.
//
// model.go keeps one estimator per stint for a driver and turns it into a
// Prediction with cliff risk and confidence. manager.go is the per-session
// registry keyed by driver number; it is not safe for concurrent use and is
// owned by the session runner.
//
// filters.go and traffic.go decide whether a lap is clean enough to feed the
// estimator.
package degradation
