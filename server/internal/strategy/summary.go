package strategy

import (
	"math"

	"github.com/pitwall/pitwall/server/internal/state"
)

// Summary is the JSON contract for one recommendation.
type Summary struct {
	DriverNumber int            `json:"driver_number"`
	Action       string         `json:"action"`
	Confidence   *float64       `json:"confidence"`
	Reason       string         `json:"reason"`
	PitWindow    *WindowSummary `json:"pit_window"`
	Threats      ThreatSummary  `json:"threats"`
	PitTo        *string        `json:"pit_to"`
}

// WindowSummary is the JSON form of a non-degenerate Window.
type WindowSummary struct {
	Min   int `json:"min"`
	Max   int `json:"max"`
	Ideal int `json:"ideal"`
}

// ThreatSummary carries the threat flags.
type ThreatSummary struct {
	Undercut bool `json:"undercut"`
	Overcut  bool `json:"overcut"`
}

// Summary renders rec for JSON output. Confidence is rounded to two places
// and is null when not finite.
func (rec Recommendation) Summary() Summary {
	s := Summary{
		DriverNumber: rec.DriverNumber,
		Action:       rec.Action.String(),
		Confidence:   state.Num(math.Round(rec.Confidence*100) / 100),
		Reason:       rec.Reason,
		Threats: ThreatSummary{
			Undercut: rec.UndercutThreat,
			Overcut:  rec.OvercutOpportunity,
		},
	}
	if !rec.Window.Degenerate() {
		s.PitWindow = &WindowSummary{Min: rec.Window.MinLap, Max: rec.Window.MaxLap, Ideal: rec.Window.IdealLap}
	}
	if rec.Pit != nil {
		to := rec.Pit.CompoundTo
		s.PitTo = &to
	}
	return s
}
