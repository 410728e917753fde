package telemetry

import "time"

// DriverInfo carries a driver's identity fields.
type DriverInfo struct {
	DriverNumber int    `json:"driver_number"`
	NameAcronym  string `json:"name_acronym,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	TeamName     string `json:"team_name,omitempty"`
	TeamColour   string `json:"team_colour,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// LapRecord is one completed lap. Durations are seconds; nil means the
// provider did not report the value.
type LapRecord struct {
	DriverNumber int       `json:"driver_number"`
	LapNumber    int       `json:"lap_number"`
	LapDuration  *float64  `json:"lap_duration,omitempty"`
	Sector1      *float64  `json:"sector_1,omitempty"`
	Sector2      *float64  `json:"sector_2,omitempty"`
	Sector3      *float64  `json:"sector_3,omitempty"`
	IsPitOutLap  bool      `json:"is_pit_out_lap,omitempty"`
	SpeedTrap    *float64  `json:"speed_trap,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PositionRecord is a classification change for one driver.
type PositionRecord struct {
	DriverNumber int       `json:"driver_number"`
	Position     int       `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
}

// IntervalRecord carries gaps in seconds. Interval is the gap to the car ahead.
type IntervalRecord struct {
	DriverNumber int       `json:"driver_number"`
	GapToLeader  *float64  `json:"gap_to_leader,omitempty"`
	Interval     *float64  `json:"interval,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StintRecord describes one tyre stint.
type StintRecord struct {
	DriverNumber   int    `json:"driver_number"`
	StintNumber    int    `json:"stint_number"`
	Compound       string `json:"compound"`
	LapStart       int    `json:"lap_start"`
	LapEnd         *int   `json:"lap_end,omitempty"`
	TyreAgeAtStart int    `json:"tyre_age_at_start"`
}

// PitRecord is one pit stop.
type PitRecord struct {
	DriverNumber int       `json:"driver_number"`
	LapNumber    int       `json:"lap_number"`
	PitDuration  *float64  `json:"pit_duration,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RaceControlRecord is a race-control message. Flag is one of GREEN, CLEAR,
// YELLOW, DOUBLE YELLOW, RED or empty.
type RaceControlRecord struct {
	Category     string    `json:"category"`
	Flag         string    `json:"flag,omitempty"`
	Message      string    `json:"message"`
	LapNumber    *int      `json:"lap_number,omitempty"`
	DriverNumber *int      `json:"driver_number,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// UpdateBatch bundles one slice of new telemetry. Any list may be nil and
// CurrentLap is zero when the provider did not report it.
type UpdateBatch struct {
	SessionKey  string              `json:"session_key"`
	Timestamp   time.Time           `json:"timestamp"`
	CurrentLap  int                 `json:"current_lap,omitempty"`
	Drivers     []DriverInfo        `json:"drivers,omitempty"`
	Laps        []LapRecord         `json:"laps,omitempty"`
	Positions   []PositionRecord    `json:"positions,omitempty"`
	Intervals   []IntervalRecord    `json:"intervals,omitempty"`
	Stints      []StintRecord       `json:"stints,omitempty"`
	Pits        []PitRecord         `json:"pits,omitempty"`
	RaceControl []RaceControlRecord `json:"race_control,omitempty"`
}

// Empty reports whether the batch carries nothing to apply.
func (b UpdateBatch) Empty() bool {
	return b.CurrentLap == 0 &&
		len(b.Drivers) == 0 &&
		len(b.Laps) == 0 &&
		len(b.Positions) == 0 &&
		len(b.Intervals) == 0 &&
		len(b.Stints) == 0 &&
		len(b.Pits) == 0 &&
		len(b.RaceControl) == 0
}

// Float returns a pointer to v, for building optional fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building optional fields.
func Int(v int) *int { return &v }
