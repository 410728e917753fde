package backtest

import (
	"sort"

	"github.com/pitwall/pitwall/server/internal/strategy"
)

// PitTolerance is how many laps either side of a call a stop still counts
// as following it.
const PitTolerance = 2

// What the driver did around a call.
const (
	Pitted    = "PITTED"
	StayedOut = "STAYED_OUT"
)

// Call is one recommendation taken at face value.
type Call struct {
	DriverNumber int
	Lap          int
	Action       string
	// IdealLap is the pit window's ideal lap; 0 when no stop was planned.
	IdealLap int
}

// Input is everything Score needs.
type Input struct {
	SessionKey  string
	SessionName string
	TotalLaps   int
	Calls       []Call
	// Pits lists the laps each driver stopped on.
	Pits map[int][]int
	// Positions holds each driver's position at the end of each lap.
	Positions map[int]map[int]int
}

// Decision is a scored Call.
type Decision struct {
	DriverNumber   int    `json:"driver_number"`
	Lap            int    `json:"lap"`
	Recommended    string `json:"recommended"`
	Actual         string `json:"actual"`
	IdealLap       int    `json:"ideal_lap,omitempty"`
	Scored         bool   `json:"scored"`
	Correct        bool   `json:"correct"`
	PositionBefore int    `json:"position_before"`
	PositionAfter  int    `json:"position_after"`
	PositionDelta  int    `json:"position_delta"`
}

// DriverSummary aggregates one driver's decisions.
type DriverSummary struct {
	DriverNumber int     `json:"driver_number"`
	Decisions    int     `json:"decisions"`
	Scored       int     `json:"scored"`
	Correct      int     `json:"correct"`
	Accuracy     float64 `json:"accuracy"`
	PositionGain int     `json:"position_gain"`
	PitLaps      []int   `json:"pit_laps"`
}

// Report is the outcome of a backtest.
type Report struct {
	SessionKey  string `json:"session_key"`
	SessionName string `json:"session_name"`
	TotalLaps   int    `json:"total_laps"`

	TotalDecisions   int `json:"total_decisions"`
	ScoredDecisions  int `json:"scored_decisions"`
	CorrectDecisions int `json:"correct_decisions"`
	// Accuracy is CorrectDecisions / ScoredDecisions.
	Accuracy float64 `json:"accuracy"`

	// AvgPitTimingError is the mean distance in laps between a call's ideal
	// lap and the driver's nearest real stop.
	AvgPitTimingError float64 `json:"avg_pit_timing_error"`
	TimingSamples     int     `json:"timing_samples"`

	TotalPositionGain int     `json:"total_position_gain"`
	AvgPositionGain   float64 `json:"avg_position_gain"`

	Decisions []Decision      `json:"decisions"`
	Drivers   []DriverSummary `json:"drivers"`
}

// Score compares each call with the stops the driver made.
//
// PIT_NOW is correct when the driver stopped within PitTolerance laps of
// the call. STAY_OUT and EXTEND_STINT are correct when they did not.
// CONSIDER_PIT leaves the choice to the pit wall, so it is listed but not
// scored. The position delta is the change from the call's lap to the next
// one, positive for places gained.
func Score(in Input) Report {
	rep := Report{
		SessionKey:  in.SessionKey,
		SessionName: in.SessionName,
		TotalLaps:   in.TotalLaps,
		Decisions:   make([]Decision, 0, len(in.Calls)),
	}
	drivers := make(map[int]*DriverSummary)
	summary := func(n int) *DriverSummary {
		s, ok := drivers[n]
		if !ok {
			s = &DriverSummary{DriverNumber: n, PitLaps: append([]int(nil), in.Pits[n]...)}
			drivers[n] = s
		}
		return s
	}

	var timingTotal int
	for _, c := range in.Calls {
		pits := in.Pits[c.DriverNumber]
		pitted := pittedNear(pits, c.Lap)

		d := Decision{
			DriverNumber: c.DriverNumber,
			Lap:          c.Lap,
			Recommended:  c.Action,
			Actual:       StayedOut,
			IdealLap:     c.IdealLap,
		}
		if pitted {
			d.Actual = Pitted
		}
		switch c.Action {
		case strategy.PitNow.String():
			d.Scored, d.Correct = true, pitted
		case strategy.StayOut.String(), strategy.ExtendStint.String():
			d.Scored, d.Correct = true, !pitted
		}
		d.PositionBefore, d.PositionAfter = positionsAround(in.Positions[c.DriverNumber], c.Lap)
		if d.PositionBefore > 0 && d.PositionAfter > 0 {
			d.PositionDelta = d.PositionBefore - d.PositionAfter
		}

		s := summary(c.DriverNumber)
		s.Decisions++
		s.PositionGain += d.PositionDelta
		rep.TotalDecisions++
		rep.TotalPositionGain += d.PositionDelta
		if d.Scored {
			s.Scored++
			rep.ScoredDecisions++
			if d.Correct {
				s.Correct++
				rep.CorrectDecisions++
			}
		}

		if c.IdealLap > 0 && len(pits) > 0 {
			timingTotal += nearest(pits, c.IdealLap)
			rep.TimingSamples++
		}
		rep.Decisions = append(rep.Decisions, d)
	}

	if rep.ScoredDecisions > 0 {
		rep.Accuracy = float64(rep.CorrectDecisions) / float64(rep.ScoredDecisions)
	}
	if rep.TotalDecisions > 0 {
		rep.AvgPositionGain = float64(rep.TotalPositionGain) / float64(rep.TotalDecisions)
	}
	if rep.TimingSamples > 0 {
		rep.AvgPitTimingError = float64(timingTotal) / float64(rep.TimingSamples)
	}

	// Drivers who stopped but never got a call still get a row.
	for n := range in.Pits {
		summary(n)
	}
	rep.Drivers = make([]DriverSummary, 0, len(drivers))
	for _, s := range drivers {
		if s.Scored > 0 {
			s.Accuracy = float64(s.Correct) / float64(s.Scored)
		}
		rep.Drivers = append(rep.Drivers, *s)
	}
	sort.Slice(rep.Drivers, func(i, j int) bool { return rep.Drivers[i].DriverNumber < rep.Drivers[j].DriverNumber })
	return rep
}

func pittedNear(pits []int, lap int) bool {
	for _, p := range pits {
		if abs(p-lap) <= PitTolerance {
			return true
		}
	}
	return false
}

// positionsAround returns the position at lap and at lap+1. A missing next
// lap repeats the first; a missing first lap yields zeros.
func positionsAround(byLap map[int]int, lap int) (before, after int) {
	before = byLap[lap]
	if before == 0 {
		return 0, 0
	}
	after, ok := byLap[lap+1]
	if !ok || after == 0 {
		after = before
	}
	return before, after
}

// nearest returns the smallest distance from lap to any of pits.
func nearest(pits []int, lap int) int {
	best := -1
	for _, p := range pits {
		if d := abs(p - lap); best < 0 || d < best {
			best = d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
