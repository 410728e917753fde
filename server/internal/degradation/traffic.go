package degradation

const (
	// trafficHistory is the number of gaps kept per driver.
	trafficHistory = 10

	// severeGap is the gap at or below which traffic severity is 1.
	severeGap = 0.5
)

// TrafficConfig holds the dirty-air heuristics.
type TrafficConfig struct {
	CloseGap       float64 // seconds to the car ahead
	SustainedLaps  int
	SustainedBoost float64
}

// DefaultTrafficConfig returns the production heuristics.
func DefaultTrafficConfig() TrafficConfig {
	return TrafficConfig{CloseGap: 1.5, SustainedLaps: 2, SustainedBoost: 1.2}
}

func (c TrafficConfig) withDefaults() TrafficConfig {
	d := DefaultTrafficConfig()
	if c.CloseGap <= severeGap {
		c.CloseGap = d.CloseGap
	}
	if c.SustainedLaps <= 0 {
		c.SustainedLaps = d.SustainedLaps
	}
	if c.SustainedBoost <= 0 {
		c.SustainedBoost = d.SustainedBoost
	}
	return c
}

// DetectTraffic classifies the current gap to the car ahead. previous holds
// earlier gaps, oldest first. Severity is 1 at or below 0.5 s, falls linearly
// to 0 at CloseGap, and is boosted when the last SustainedLaps gaps were all
// close.
func DetectTraffic(gapAhead *float64, previous []float64, cfg TrafficConfig) (inTraffic bool, severity float64) {
	if gapAhead == nil {
		return false, 0
	}
	cfg = cfg.withDefaults()
	gap := *gapAhead

	near := gap < cfg.CloseGap
	switch {
	case gap >= cfg.CloseGap:
		severity = 0
	case gap <= severeGap:
		severity = 1
	default:
		severity = 1 - (gap-severeGap)/(cfg.CloseGap-severeGap)
	}

	sustained := false
	if len(previous) > 0 {
		recent := previous
		if len(recent) > cfg.SustainedLaps {
			recent = recent[len(recent)-cfg.SustainedLaps:]
		}
		n := 0
		for _, g := range recent {
			if g < cfg.CloseGap {
				n++
			}
		}
		sustained = n >= cfg.SustainedLaps
		if sustained {
			severity = minf(1, severity*cfg.SustainedBoost)
		}
	}
	return near || sustained, severity
}

// TrafficTracker keeps per-driver gap history across laps. It is not safe for
// concurrent use.
type TrafficTracker struct {
	cfg         TrafficConfig
	gaps        map[int][]float64
	closeStreak map[int]int
}

// NewTrafficTracker returns an empty tracker.
func NewTrafficTracker(cfg TrafficConfig) *TrafficTracker {
	return &TrafficTracker{
		cfg:         cfg.withDefaults(),
		gaps:        make(map[int][]float64),
		closeStreak: make(map[int]int),
	}
}

// Update records the driver's latest gap to the car ahead and returns the
// traffic classification. A nil gap is not recorded.
func (t *TrafficTracker) Update(driver int, gapAhead *float64) (inTraffic bool, severity float64) {
	hist := t.gaps[driver]
	if gapAhead != nil {
		hist = append(hist, *gapAhead)
		if len(hist) > trafficHistory {
			hist = hist[len(hist)-trafficHistory:]
		}
		t.gaps[driver] = hist
	}

	var previous []float64
	if gapAhead != nil && len(hist) > 0 {
		previous = hist[:len(hist)-1]
	} else {
		previous = hist
	}
	inTraffic, severity = DetectTraffic(gapAhead, previous, t.cfg)

	if gapAhead != nil && *gapAhead < t.cfg.CloseGap {
		t.closeStreak[driver]++
	} else {
		t.closeStreak[driver] = 0
	}
	return inTraffic, severity
}

// CloseStreak returns the number of consecutive updates with a close gap.
func (t *TrafficTracker) CloseStreak(driver int) int {
	return t.closeStreak[driver]
}

// Reset clears all history.
func (t *TrafficTracker) Reset() {
	t.gaps = make(map[int][]float64)
	t.closeStreak = make(map[int]int)
}
