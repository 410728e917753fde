package api

import (
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	SessionKey  string `json:"session_key"`
	RunID       string `json:"run_id,omitempty"`
	CurrentLap  int    `json:"current_lap"`
	TotalLaps   int    `json:"total_laps"`
	DriverCount int    `json:"driver_count"`
	UpdateCount uint64 `json:"update_count"`
	AlertCount  int    `json:"alert_count"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket state_update.
type SnapshotResponse struct {
	state.Snapshot
	GeneratedAt string `json:"generated_at"` // RFC3339
}

// RecommendationsResponse is the payload for GET /api/v1/recommendations.
type RecommendationsResponse struct {
	Lap             int                `json:"lap"`
	GeneratedAt     string             `json:"generated_at,omitempty"`
	Recommendations []strategy.Summary `json:"recommendations"`
}

// CompareResponse is the payload for GET /api/v1/compare/{n}.
type CompareResponse struct {
	DriverNumber int                `json:"driver_number"`
	Lap          int                `json:"lap"`
	PitNow       montecarlo.Outcome `json:"pit_now"`
	StayOut      montecarlo.Outcome `json:"stay_out"`
	// LaterLap is the race lap of the stay-out stop; 0 when it runs to the
	// flag.
	LaterLap int     `json:"later_lap"`
	Gain     float64 `json:"gain"`
	Better   string  `json:"better"`
}

// GridResponse is the payload for GET /api/v1/grid.
type GridResponse struct {
	Lap     int                  `json:"lap"`
	Drivers []montecarlo.Outcome `json:"drivers"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
