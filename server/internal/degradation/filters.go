package degradation

import "math"

// Lap time bounds for a racing lap, in seconds.
const (
	MinLapTime = 60.0
	MaxLapTime = 180.0
)

// minOutlierSamples is the history length below which no lap is an outlier.
const minOutlierSamples = 5

// LapConditions describes why a lap might not be representative.
type LapConditions struct {
	PitIn     bool
	PitOut    bool
	SafetyCar bool
	VSC       bool
}

// IsValidLap reports whether lapTime is a clean racing lap: no pit entry or
// exit, no neutralisation, and within [MinLapTime, MaxLapTime].
func IsValidLap(lapTime float64, c LapConditions) bool {
	if math.IsNaN(lapTime) || lapTime <= 0 {
		return false
	}
	if c.PitIn || c.PitOut || c.SafetyCar || c.VSC {
		return false
	}
	return lapTime >= MinLapTime && lapTime <= MaxLapTime
}

// IsOutlier reports whether v lies more than sigma sample standard deviations
// from the mean of history. Histories shorter than five laps, or with zero
// spread, never flag an outlier.
func IsOutlier(history []float64, v, sigma float64) bool {
	if len(history) < minOutlierSamples || sigma <= 0 {
		return false
	}
	mean, std := meanStd(history)
	if std == 0 {
		return false
	}
	return math.Abs(v-mean)/std > sigma
}

// meanStd returns the mean and sample standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
