package strategy

import "math"

// Undercut heuristics.
const (
	// freshTyreAdvantage is the pace gained on the out-lap and the lap after.
	freshTyreAdvantage = 1.5
	// undercutReachMargin is how far beyond the pit loss a rival can still be
	// undercut.
	undercutReachMargin = 3.0
	// undercutMinGap is the gap below which a normal overtake is preferred.
	undercutMinGap = 1.0
)

// Overcut heuristics.
const (
	overcutDegAdvantage = 0.02
	overcutFullConf     = 0.05
)

// DetectUndercut reports whether pitting now could pass the car ahead.
// ours and theirs are degradation slopes in s/lap.
func DetectUndercut(gapAhead *float64, ours, theirs, pitLoss float64) (viable bool, confidence float64) {
	if gapAhead == nil || *gapAhead <= 0 || math.IsNaN(*gapAhead) {
		return false, 0
	}
	gap := *gapAhead
	if gap > pitLoss+undercutReachMargin {
		return false, 0
	}
	if gap < undercutMinGap {
		return false, 0.5
	}

	required := pitLoss - gap
	advantage := freshTyreAdvantage + (finite(theirs)-finite(ours))*3
	return advantage > required, math.Min(1, advantage/math.Max(0.1, required))
}

// DetectOvercut reports whether staying out keeps us ahead of the car behind
// when it stops first.
func DetectOvercut(gapBehind *float64, ours, theirs, pitLoss float64) (viable bool, confidence float64) {
	if gapBehind == nil || math.IsNaN(*gapBehind) || *gapBehind >= pitLoss {
		return false, 0
	}
	advantage := finite(theirs) - finite(ours)
	return advantage > overcutDegAdvantage, clamp01(advantage / overcutFullConf)
}
