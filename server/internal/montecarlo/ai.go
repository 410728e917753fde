package montecarlo

// Rival pit heuristics.
const (
	scGambleMinAge   = 10
	coverMaxPosition = 10
	coverMaxGap      = 2.0
	coverMinAge      = 15
	rivalCompound    = "HARD"
)

// RivalSituation is what a simulated rival knows when deciding to stop.
type RivalSituation struct {
	TyreAge   int
	Compound  string
	Position  int
	GapBehind *float64
	CliffLap  int
	SafetyCar bool
}

// PitCall is a rival's decision for one lap.
type PitCall struct {
	Pit      bool
	Compound string
	Reason   string
}

// DecidePit applies the rival heuristics in order: take a cheap stop under
// the safety car on worn tyres, stop once past the cliff, or cover a close
// car behind when running in the points on a long stint.
func DecidePit(s RivalSituation) PitCall {
	switch {
	case s.SafetyCar && s.TyreAge > scGambleMinAge:
		return PitCall{Pit: true, Compound: rivalCompound, Reason: "Safety car opportunity"}
	case s.TyreAge > s.CliffLap:
		return PitCall{Pit: true, Compound: rivalCompound, Reason: "Tyre cliff reached"}
	case s.Position <= coverMaxPosition && s.GapBehind != nil && *s.GapBehind < coverMaxGap && s.TyreAge > coverMinAge:
		return PitCall{Pit: true, Compound: rivalCompound, Reason: "Covering potential undercut"}
	}
	return PitCall{Compound: s.Compound, Reason: "Stint ongoing"}
}
