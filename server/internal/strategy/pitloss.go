package strategy

import "math"

const (
	// laneShare is the fraction of the pit loss spent driving the pit lane;
	// the rest is stationary time.
	laneShare = 0.6

	positionSafetyMargin = 1.0
	secondsPerPosition   = 2.0
	maxPositionsLost     = 5
)

// PitLossEstimate breaks a stop's cost down for display and decisions.
type PitLossEstimate struct {
	LaneDelta         float64
	Stationary        float64
	Total             float64
	PositionsAtRisk   int
	UndercutThreshold float64
}

// EstimatePositionLoss estimates places lost to the cars behind during a
// stop: one per two seconds of exposure, capped at five. An unknown gap
// costs one place.
func EstimatePositionLoss(gapBehind *float64, pitLoss float64) int {
	if gapBehind == nil || math.IsNaN(*gapBehind) {
		return 1
	}
	effective := pitLoss + positionSafetyMargin
	if *gapBehind > effective {
		return 0
	}
	n := int((effective-*gapBehind)/secondsPerPosition) + 1
	return minInt(n, maxPositionsLost)
}

// UndercutThreshold is the per-lap pace gain fresh tyres need to recover the
// pit loss within lapsInWindow laps, reduced by how much faster the car
// ahead degrades.
func UndercutThreshold(ours, ahead, pitLoss float64, lapsInWindow int) float64 {
	return pitLoss/float64(maxInt(1, lapsInWindow)) - (ahead - ours)
}

// OvercutViability projects the gap to a rival that pits now while we stay
// out lapsToPit more laps. It is viable when we are still ahead afterwards.
func OvercutViability(ours, currentGap, pitLoss float64, lapsToPit int) (viable bool, finalGap float64) {
	finalGap = currentGap + pitLoss - ours*float64(lapsToPit)
	return finalGap > 0, finalGap
}

// EstimatePitLoss returns the full breakdown for a track pit loss.
func EstimatePitLoss(trackPitLoss float64, gapBehind *float64, ours, ahead float64) PitLossEstimate {
	return PitLossEstimate{
		LaneDelta:         trackPitLoss * laneShare,
		Stationary:        trackPitLoss * (1 - laneShare),
		Total:             trackPitLoss,
		PositionsAtRisk:   EstimatePositionLoss(gapBehind, trackPitLoss),
		UndercutThreshold: UndercutThreshold(ours, ahead, trackPitLoss, 3),
	}
}
