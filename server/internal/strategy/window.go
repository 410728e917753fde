package strategy

import (
	"math"
	"sort"
)

// minSlope bounds the degradation slope used for the crossover estimate.
const minSlope = 0.01

// Window is a recommended range of pit laps. The all-zero window means no
// stop is recommended.
type Window struct {
	MinLap     int
	MaxLap     int
	IdealLap   int
	Confidence float64
	Reason     string
}

// Degenerate reports whether w is the "no pit" window.
func (w Window) Degenerate() bool {
	return w.MinLap == 0 && w.MaxLap == 0 && w.IdealLap == 0
}

// Contains reports whether lap is inside a non-degenerate window.
func (w Window) Contains(lap int) bool {
	return !w.Degenerate() && lap >= w.MinLap && lap <= w.MaxLap
}

// Width is MaxLap − MinLap.
func (w Window) Width() int { return w.MaxLap - w.MinLap }

// lockedAt returns w when it is a real window that has opened by lap, and
// nil otherwise.
func (w *Window) lockedAt(lap int) *Window {
	if w == nil || w.Degenerate() || lap < w.MinLap {
		return nil
	}
	return w
}

// WindowInput carries the parameters of FindOptimalWindow.
type WindowInput struct {
	CurrentLap   int
	TotalLaps    int
	DegSlope     float64
	PitLoss      float64
	TyreAge      int
	Compound     string
	CliffRisk    float64
	MinStintLaps int
}

// FindOptimalWindow computes the pit window. The result always satisfies
// MinLap <= IdealLap <= MaxLap, or is degenerate when fewer than
// MinStintLaps laps remain.
func FindOptimalWindow(in WindowInput) Window {
	remaining := in.TotalLaps - in.CurrentLap
	if remaining <= in.MinStintLaps {
		return Window{Confidence: 1, Reason: "Too late to pit, stay out to finish"}
	}

	slope := finite(in.DegSlope)
	risk := clamp01(in.CliffRisk)

	// Stint length at which cumulative degradation costs as much as a stop.
	// Capped at the remaining distance.
	crossover := int(math.Min(math.Max(0, finite(in.PitLoss))/math.Max(slope, minSlope), float64(remaining)))

	minLap := in.CurrentLap + maxInt(1, in.MinStintLaps-in.TyreAge)
	maxLap := in.CurrentLap + minInt(remaining-in.MinStintLaps, crossover+5)
	if maxLap < minLap {
		maxLap = minLap
	}
	width := maxLap - minLap

	var ideal int
	var reason string
	switch {
	case risk > 0.7:
		ideal = minLap + int(float64(width)*0.3)
		reason = "High cliff risk, pit early recommended"
	case risk > 0.4:
		ideal = minLap + width/2
		reason = "Moderate degradation, flexible window"
	default:
		ideal = maxLap
		reason = "Low degradation, extend stint if possible"
	}
	ideal = maxInt(minLap, minInt(maxLap, ideal))

	return Window{
		MinLap:     minLap,
		MaxLap:     maxLap,
		IdealLap:   ideal,
		Confidence: 1 - math.Min(0.5, risk*0.5),
		Reason:     reason,
	}
}

// ScoredWindow pairs a window with its ranking score.
type ScoredWindow struct {
	Window Window
	Score  float64
}

// RankWindows orders candidate windows best first. The score weighs window
// confidence at 60% and how central the ideal lap is at 40%. Degenerate
// windows score on confidence only.
func RankWindows(windows []Window) []ScoredWindow {
	out := make([]ScoredWindow, 0, len(windows))
	for _, w := range windows {
		timing := 0.0
		if !w.Degenerate() {
			mid := float64(w.MinLap+w.MaxLap) / 2
			timing = 1 - math.Abs(float64(w.IdealLap)-mid)/float64(maxInt(1, w.Width()))
		}
		out = append(out, ScoredWindow{Window: w, Score: w.Confidence*0.6 + timing*0.4})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
