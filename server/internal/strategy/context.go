package strategy

import "github.com/pitwall/pitwall/server/internal/state"

// fallbackPace is used when a driver has no lap time yet.
const fallbackPace = 90.0

// DriverContext is the per-driver input to Evaluate.
type DriverContext struct {
	DriverNumber int
	Position     int
	DegSlope     float64
	CliffRisk    float64
	CurrentPace  float64
	TyreAge      int
	Compound     string
	GapAhead     *float64
	GapBehind    *float64
	AheadDeg     float64
	BehindDeg    float64

	// PinnedWindow is the window from an earlier evaluation in the same
	// stint, if any.
	PinnedWindow *Window
}

// RaceContext is the race-wide input to Evaluate.
type RaceContext struct {
	CurrentLap       int
	TotalLaps        int
	PitLoss          float64
	MinStintLaps     int
	SafetyCar        bool
	VirtualSafetyCar bool

	// Comparison, when set, settles a CONSIDER_PIT.
	Comparison *Comparison
}

// Comparison is the expected finishing position for pitting now against
// staying out, as produced by a Monte Carlo run.
type Comparison struct {
	PitNowExpected  float64
	StayOutExpected float64
	AlternativeLap  int // 0 when staying out means no stop
}

// Tuning holds the strategy parameters that can change while a session runs.
type Tuning struct {
	PitLoss           float64
	MinStintLaps      int
	RivalDefaultDeg   float64
	PredictionHorizon int
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		PitLoss:           22,
		MinStintLaps:      10,
		RivalDefaultDeg:   0.05,
		PredictionHorizon: 5,
	}
}

// BuildContext derives the Evaluate inputs for one driver from rs. The gap
// behind is the next car's gap to the car ahead. Rival slopes fall back to
// t.RivalDefaultDeg when not yet estimated. It reports false for an unknown
// driver.
func BuildContext(rs *state.RaceState, number int, t Tuning) (DriverContext, RaceContext, bool) {
	if rs == nil {
		return DriverContext{}, RaceContext{}, false
	}
	d, ok := rs.Driver(number)
	if !ok {
		return DriverContext{}, RaceContext{}, false
	}
	ahead, behind := rs.Neighbours(number)

	dc := DriverContext{
		DriverNumber: number,
		Position:     d.Position,
		DegSlope:     d.DegSlope,
		CliffRisk:    d.CliffRisk,
		CurrentPace:  pace(d),
		TyreAge:      d.TyreAge,
		Compound:     d.Compound,
		GapAhead:     d.GapToAhead,
		AheadDeg:     t.RivalDefaultDeg,
		BehindDeg:    t.RivalDefaultDeg,
	}
	if ahead != nil && ahead.DegSlope != 0 {
		dc.AheadDeg = ahead.DegSlope
	}
	if behind != nil {
		dc.GapBehind = behind.GapToAhead
		if behind.DegSlope != 0 {
			dc.BehindDeg = behind.DegSlope
		}
	}

	rc := RaceContext{
		CurrentLap:       rs.CurrentLap,
		TotalLaps:        rs.TotalLaps,
		PitLoss:          t.PitLoss,
		MinStintLaps:     t.MinStintLaps,
		SafetyCar:        rs.SafetyCar,
		VirtualSafetyCar: rs.VirtualSafetyCar,
	}
	return dc, rc, true
}

func pace(d state.DriverState) float64 {
	if d.LastLapTime != nil && *d.LastLapTime > 0 {
		return *d.LastLapTime
	}
	if d.BestLapTime != nil && *d.BestLapTime > 0 {
		return *d.BestLapTime
	}
	return fallbackPace
}

// Apply copies the decision outputs of rec onto d.
func Apply(d state.DriverState, rec Recommendation) state.DriverState {
	d.PitWindowMin = rec.Window.MinLap
	d.PitWindowMax = rec.Window.MaxLap
	d.PitWindowIdeal = rec.Window.IdealLap
	d.PitRecommendation = rec.Action.String()
	d.PitConfidence = rec.Confidence
	d.PitReason = rec.Reason
	d.PitCompound = ""
	if rec.Pit != nil {
		d.PitCompound = rec.Pit.CompoundTo
	}
	d.UndercutThreat = rec.UndercutThreat
	d.OvercutOpportunity = rec.OvercutOpportunity
	return d
}
