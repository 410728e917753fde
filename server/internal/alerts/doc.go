// Package alerts evaluates per-driver rules against each published race
// state and delivers fired and resolved alerts to webhooks.
//
// A rule condition is "field op value". Numeric fields: cliff_risk,
// deg_slope, tyre_age, pit_confidence, model_confidence, position,
// gap_to_ahead. Text and flag fields: action (==, !=), undercut and
// overcut (== true|false).
//
// Every alert carries the driver's strategy call at the time it fired or
// resolved. Slack and Teams receive it as labelled fields headed by the
// action; "http" webhooks get a strategy_alert event with the driver, lap,
// action, confidence and pit window at the top level.
package alerts
