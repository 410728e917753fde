package strategy

import (
	"fmt"
	"math"
	"strings"
)

// Action is the recommended course for one driver on one lap.
type Action int

// The four actions. The zero value is StayOut.
const (
	StayOut Action = iota
	ConsiderPit
	PitNow
	ExtendStint
)

// Actions lists every Action in declaration order.
var Actions = []Action{StayOut, ConsiderPit, PitNow, ExtendStint}

func (a Action) String() string {
	switch a {
	case StayOut:
		return "STAY_OUT"
	case ConsiderPit:
		return "CONSIDER_PIT"
	case PitNow:
		return "PIT_NOW"
	case ExtendStint:
		return "EXTEND_STINT"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// IsPit reports whether a involves stopping this lap or soon.
func (a Action) IsPit() bool {
	switch a {
	case PitNow, ConsiderPit:
		return true
	case StayOut, ExtendStint:
		return false
	}
	return false
}

// ParseAction parses the String form of an Action.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return StayOut, fmt.Errorf("strategy: unknown action %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Decision thresholds.
const (
	criticalCliffRisk  = 0.85
	idealLapConfidence = 0.7
	extendMaxRemaining = 10
	extendMaxTyreAge   = 15

	// comparisonMargin is the expected-position gap at which a simulation
	// comparison settles a CONSIDER_PIT.
	comparisonMargin = 0.5
)

// PitDecision details a recommended stop.
type PitDecision struct {
	Lap                   int
	CompoundTo            string
	ExpectedPositionsLost int
	ExpectedTimeGain      float64
	Confidence            float64
	PitLoss               PitLossEstimate
}

// Recommendation is the output of Evaluate.
type Recommendation struct {
	DriverNumber       int
	Action             Action
	Confidence         float64
	Reason             string
	Window             Window
	Pit                *PitDecision
	UndercutThreat     bool
	OvercutOpportunity bool
	Alternatives       []string
	Comparison         *Comparison
}

// Evaluate applies the decision rules in order; the first match wins.
//
//  1. Safety car with the current lap inside the window: PIT_NOW 0.95.
//  2. Cliff risk above 0.85: PIT_NOW 0.9.
//  3. Undercut threat and the window is open: PIT_NOW 0.8.
//  4. Ideal lap reached: PIT_NOW when window confidence > 0.7, else CONSIDER_PIT.
//  5. Past the window: PIT_NOW 0.7.
//  6. Ten laps or fewer left on tyres younger than 15 laps: EXTEND_STINT 0.8.
//  7. Otherwise STAY_OUT with confidence 1 − cliff_risk/2.
//
// A fresh window always opens after the current lap, so the window carried
// in d.PinnedWindow is reused once it has opened. Until then the window is
// recomputed on every call and follows the estimator.
//
// Rules 3 to 5 need a window and are skipped when no stop is recommended.
// The undercut is applied as a second pass so it can only upgrade a
// non-pit outcome. Evaluate never fails; incomplete input yields a
// best-effort recommendation.
func Evaluate(d DriverContext, r RaceContext) Recommendation {
	remaining := maxInt(0, r.TotalLaps-r.CurrentLap)
	cliff := clamp01(d.CliffRisk)
	slope := finite(d.DegSlope)

	w := d.PinnedWindow.lockedAt(r.CurrentLap)
	if w == nil {
		fresh := FindOptimalWindow(WindowInput{
			CurrentLap:   r.CurrentLap,
			TotalLaps:    r.TotalLaps,
			DegSlope:     slope,
			PitLoss:      r.PitLoss,
			TyreAge:      d.TyreAge,
			Compound:     d.Compound,
			CliffRisk:    cliff,
			MinStintLaps: r.MinStintLaps,
		})
		w = &fresh
	}

	undercut, _ := DetectUndercut(d.GapAhead, slope, d.AheadDeg, r.PitLoss)
	overcut, _ := DetectOvercut(d.GapBehind, slope, d.BehindDeg, r.PitLoss)

	in := ruleInput{
		lap:       r.CurrentLap,
		remaining: remaining,
		tyreAge:   d.TyreAge,
		cliff:     cliff,
		sc:        r.SafetyCar,
		window:    *w,
	}
	action, conf, reason := decide(in, false)
	if undercut && !action.IsPit() {
		action, conf, reason = decide(in, true)
	}

	if action == ConsiderPit && r.Comparison != nil {
		action, conf, reason = settle(action, conf, reason, *r.Comparison)
	}

	rec := Recommendation{
		DriverNumber:       d.DriverNumber,
		Action:             action,
		Confidence:         clamp01(conf),
		Reason:             reason,
		Window:             *w,
		UndercutThreat:     undercut,
		OvercutOpportunity: overcut,
		Comparison:         r.Comparison,
	}

	if action.IsPit() {
		rec.Pit = &PitDecision{
			Lap:                   r.CurrentLap,
			CompoundTo:            nextCompound(remaining, d.Compound),
			ExpectedPositionsLost: EstimatePositionLoss(d.GapBehind, r.PitLoss),
			ExpectedTimeGain:      slope * 10,
			Confidence:            rec.Confidence,
			PitLoss:               EstimatePitLoss(r.PitLoss, d.GapBehind, slope, d.AheadDeg),
		}
	}
	rec.Alternatives = alternatives(rec, d, r)
	return rec
}

type ruleInput struct {
	lap       int
	remaining int
	tyreAge   int
	cliff     float64
	sc        bool
	window    Window
}

func decide(in ruleInput, undercut bool) (Action, float64, string) {
	w := in.window
	if in.sc && w.Contains(in.lap) {
		return PitNow, 0.95, "Safety car, free pit stop opportunity"
	}
	if in.cliff > criticalCliffRisk {
		return PitNow, 0.9, "Critical cliff risk, pit immediately"
	}
	if !w.Degenerate() {
		if undercut && in.lap >= w.MinLap {
			return PitNow, 0.8, "Undercut threat, cover by pitting"
		}
		if in.lap == w.IdealLap {
			if w.Confidence > idealLapConfidence {
				return PitNow, w.Confidence, "Ideal pit lap reached"
			}
			return ConsiderPit, w.Confidence, "Ideal pit lap reached"
		}
		if in.lap > w.MaxLap {
			return PitNow, 0.7, "Past optimal window, pit now"
		}
	}
	if in.remaining <= extendMaxRemaining && in.tyreAge < extendMaxTyreAge {
		return ExtendStint, 0.8, fmt.Sprintf("Only %d laps left, no pit needed", in.remaining)
	}
	return StayOut, 1 - in.cliff*0.5, w.Reason
}

// settle resolves a CONSIDER_PIT with a simulated comparison of pitting now
// against staying out. Lower expected position is better.
func settle(action Action, conf float64, reason string, c Comparison) (Action, float64, string) {
	if math.IsNaN(c.PitNowExpected) || math.IsNaN(c.StayOutExpected) {
		return action, conf, reason
	}
	gain := c.StayOutExpected - c.PitNowExpected
	detail := fmt.Sprintf("simulated P%.1f pitting now vs P%.1f staying out", c.PitNowExpected, c.StayOutExpected)
	switch {
	case gain >= comparisonMargin:
		return PitNow, math.Max(conf, idealLapConfidence), reason + ", " + detail
	case gain <= -comparisonMargin:
		return StayOut, math.Max(conf, idealLapConfidence), "Stay out, " + detail
	}
	return action, conf, reason + ", " + detail
}

// nextCompound picks the tyre for the next stint from the laps remaining.
func nextCompound(remaining int, current string) string {
	switch {
	case remaining > 30:
		if strings.EqualFold(current, "SOFT") {
			return "MEDIUM"
		}
		return "HARD"
	case remaining > 15:
		return "MEDIUM"
	}
	return "SOFT"
}

func alternatives(rec Recommendation, d DriverContext, r RaceContext) []string {
	w := rec.Window
	if w.Degenerate() {
		return nil
	}
	var out []string
	switch rec.Action {
	case StayOut:
		out = append(out, fmt.Sprintf("Pit on lap %d for optimal timing", w.IdealLap))
		if rec.OvercutOpportunity && d.GapBehind != nil {
			if ok, gap := OvercutViability(finite(d.DegSlope), *d.GapBehind, r.PitLoss, w.IdealLap-r.CurrentLap); ok {
				out = append(out, fmt.Sprintf("Overcut holds %.1fs over the car behind until lap %d", gap, w.IdealLap))
			}
		}
	case PitNow:
		out = append(out, fmt.Sprintf("Extend stint to lap %d if needed", w.MaxLap))
	case ConsiderPit, ExtendStint:
	}
	return out
}
