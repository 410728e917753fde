// Package api implements the HTTP REST API for the pitwall server.
//
// New(store, deps) returns an http.Handler that serves:
//
//	GET /api/v1/health                      status, lap, driver and update counts, run id
//	GET /api/v1/snapshot                    full race state + generated_at
//	GET /api/v1/drivers/{n}                 one driver; 404 if unknown
//	GET /api/v1/recommendations             latest per-driver recommendations
//	GET /api/v1/simulate/{n}?pit_lap=&n=    Monte Carlo outcome for one driver
//	GET /api/v1/compare/{n}                 pit now vs stay out
//	GET /api/v1/grid?n=                     whole-field simulation
//	GET /api/v1/alerts                      active and recently resolved alerts
//	GET  /api/v1/replay                     playback state, speed and lap
//	POST /api/v1/replay/play|pause          resume or hold the replay
//	POST /api/v1/replay/seek?lap=           jump to a lap; 409 if the source cannot rewind
//	POST /api/v1/replay/speed?x=            pacing multiplier, clamped to [0.05, 10]
//	GET  /api/v1/backtest?format=json|text  recommendation accuracy so far
//
// Read endpoints return 405 for anything but GET and the replay controls for
// anything but POST. Non-finite numbers are encoded as null. Prometheus
// metrics are served beside this handler by the server binary.
package api
