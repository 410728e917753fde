package state

import (
	"sort"
	"time"
)

// Flag values carried in RaceState.Flags.
const (
	FlagGreen     = "GREEN"
	FlagYellow    = "YELLOW"
	FlagRed       = "RED"
	FlagSafetyCar = "SAFETY CAR"
	FlagVSC       = "VSC"
)

const (
	maxRecentPits     = 10
	maxRecentMessages = 20

	// unclassified sorts drivers without a position after everyone else.
	unclassified = 999
)

// DriverState is one driver's live race attributes. Optional telemetry values
// are pointers so that "not reported" stays distinct from zero.
type DriverState struct {
	DriverNumber int
	NameAcronym  string
	FullName     string
	TeamName     string
	TeamColour   string

	Position    int
	GapToLeader *float64
	GapToAhead  *float64

	CurrentLap  int
	LastLapTime *float64
	BestLapTime *float64
	Sector1     *float64
	Sector2     *float64
	Sector3     *float64

	StintNumber   int
	Compound      string
	StintStartLap int
	LapInStint    int
	TyreAge       int

	// Estimator outputs.
	DegSlope        float64
	CliffRisk       float64
	PredictedPace   []float64
	ModelConfidence float64

	// Decision outputs.
	PitWindowMin       int
	PitWindowMax       int
	PitWindowIdeal     int
	PitRecommendation  string
	PitConfidence      float64
	PitReason          string
	PitCompound        string
	UndercutThreat     bool
	OvercutOpportunity bool

	IsPitOutLap bool
	Retired     bool
	LastUpdate  time.Time

	positionAt time.Time
	intervalAt time.Time
	ageAtStart int
}

// stintAge is the tyre age implied by the current stint at lap.
func (d DriverState) stintAge(lap int) int {
	return d.ageAtStart + max0(lap-d.StintStartLap)
}

// NewDriver returns a DriverState with the defaults used for a driver seen for
// the first time.
func NewDriver(number int) DriverState {
	return DriverState{
		DriverNumber:  number,
		StintNumber:   1,
		StintStartLap: 1,
	}
}

// PitEvent is one entry of RaceState.RecentPits.
type PitEvent struct {
	DriverNumber int
	LapNumber    int
	PitDuration  *float64
	Timestamp    time.Time
}

// ControlMessage is one entry of RaceState.RecentMessages.
type ControlMessage struct {
	Category  string
	Flag      string
	Message   string
	LapNumber *int
	Timestamp time.Time
}

// RaceState is the full state of one session. Treat it as immutable once
// published: use the With helpers or a reducer to derive a new value.
type RaceState struct {
	SessionKey  string
	SessionName string
	TrackID     string
	RunID       string

	CurrentLap int
	TotalLaps  int
	Timestamp  time.Time

	Drivers map[int]DriverState

	Flags            []string
	SafetyCar        bool
	VirtualSafetyCar bool
	RedFlag          bool

	RecentPits     []PitEvent
	RecentMessages []ControlMessage
}

// New returns an empty RaceState for a session.
func New(sessionKey string, totalLaps int) RaceState {
	return RaceState{
		SessionKey: sessionKey,
		TotalLaps:  totalLaps,
		Drivers:    make(map[int]DriverState),
	}
}

// Driver returns the state for a driver number.
func (rs RaceState) Driver(number int) (DriverState, bool) {
	d, ok := rs.Drivers[number]
	return d, ok
}

// RemainingLaps returns TotalLaps - CurrentLap, never negative. It is zero
// when the race distance is unknown.
func (rs RaceState) RemainingLaps() int {
	if rs.TotalLaps <= 0 || rs.CurrentLap >= rs.TotalLaps {
		return 0
	}
	return rs.TotalLaps - rs.CurrentLap
}

// SortedDrivers returns the drivers ordered by position, unclassified drivers
// last, ties broken by driver number.
func (rs RaceState) SortedDrivers() []DriverState {
	out := make([]DriverState, 0, len(rs.Drivers))
	for _, d := range rs.Drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := sortPosition(out[i]), sortPosition(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i].DriverNumber < out[j].DriverNumber
	})
	return out
}

// Neighbours returns the drivers directly ahead of and behind number in the
// running order. Either may be nil at the ends of the field.
func (rs RaceState) Neighbours(number int) (ahead, behind *DriverState) {
	order := rs.SortedDrivers()
	for i := range order {
		if order[i].DriverNumber != number {
			continue
		}
		if i > 0 {
			a := order[i-1]
			ahead = &a
		}
		if i+1 < len(order) {
			b := order[i+1]
			behind = &b
		}
		return ahead, behind
	}
	return nil, nil
}

// WithDriver returns a copy of rs with d stored under its driver number.
func (rs RaceState) WithDriver(d DriverState) RaceState {
	drivers := rs.cloneDrivers()
	drivers[d.DriverNumber] = d
	rs.Drivers = drivers
	return rs
}

// WithDrivers returns a copy of rs with every entry of ds stored.
func (rs RaceState) WithDrivers(ds []DriverState) RaceState {
	if len(ds) == 0 {
		return rs
	}
	drivers := rs.cloneDrivers()
	for _, d := range ds {
		drivers[d.DriverNumber] = d
	}
	rs.Drivers = drivers
	return rs
}

// HasFlag reports whether f is in the current flag set.
func (rs RaceState) HasFlag(f string) bool {
	for _, x := range rs.Flags {
		if x == f {
			return true
		}
	}
	return false
}

func (rs RaceState) cloneDrivers() map[int]DriverState {
	out := make(map[int]DriverState, len(rs.Drivers)+1)
	for k, v := range rs.Drivers {
		out[k] = v
	}
	return out
}

func sortPosition(d DriverState) int {
	if d.Position > 0 {
		return d.Position
	}
	return unclassified
}
