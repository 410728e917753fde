package strategy

import (
	"fmt"
	"math"
	"strings"
)

// Explain renders rec as a few lines of text for an engineer.
func Explain(rec Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (confidence %.0f%%)\n", rec.Action, rec.Confidence*100)
	fmt.Fprintf(&b, "%s\n", rec.Reason)
	if !rec.Window.Degenerate() {
		fmt.Fprintf(&b, "%s\n", ExplainWindow(rec.Window))
	}
	if rec.UndercutThreat {
		b.WriteString("Undercut threat: the car ahead is degrading faster\n")
	}
	if rec.OvercutOpportunity {
		b.WriteString("Overcut viable: we are preserving tyres better than the car behind\n")
	}
	if p := rec.Pit; p != nil {
		fmt.Fprintf(&b, "Pit to %s\n", p.CompoundTo)
		if p.ExpectedPositionsLost > 0 {
			fmt.Fprintf(&b, "May lose %d position(s)\n", p.ExpectedPositionsLost)
		}
		fmt.Fprintf(&b, "Expected gain %.1fs over the stint\n", p.ExpectedTimeGain)
	}
	for _, alt := range rec.Alternatives {
		fmt.Fprintf(&b, "Alternative: %s\n", alt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExplainWindow describes a pit window and how much room it leaves.
func ExplainWindow(w Window) string {
	if w.Degenerate() {
		return "No pit stop recommended, stay out to finish"
	}
	var urgency string
	switch width := w.Width(); {
	case width <= 3:
		urgency = "Narrow window, pit soon"
	case width <= 8:
		urgency = "Moderate flexibility"
	default:
		urgency = "Wide window, flexible timing"
	}
	return fmt.Sprintf("Pit between laps %d-%d. %s", w.MinLap, w.MaxLap, urgency)
}

// ExplainCliffRisk describes the tyre state for a cliff risk score.
func ExplainCliffRisk(risk float64, compound string) string {
	switch {
	case risk < 0.3:
		return compound + " tyres performing well, no immediate concern"
	case risk < 0.6:
		return compound + " tyres showing degradation, monitor closely"
	case risk < 0.8:
		return compound + " tyres approaching the cliff, consider pitting soon"
	}
	return compound + " tyres at the cliff, pit immediately"
}

// ExplainUndercut describes whether a stop now would get past the car ahead.
func ExplainUndercut(gapAhead, pitLoss, freshAdvantage float64) string {
	after := gapAhead - pitLoss
	if after > 0 {
		return fmt.Sprintf("Undercut not viable, would emerge %.1fs behind", after)
	}
	laps := math.Abs(after) / math.Max(freshAdvantage, 0.1)
	return fmt.Sprintf("Undercut possible, about %.0f laps to complete the move", laps)
}

// ExplainSafetyCar describes a stop under the safety car.
func ExplainSafetyCar(inWindow bool, gapBehind *float64, pitLoss float64) string {
	if !inWindow {
		return "Safety car but outside the pit window, stay out"
	}
	if gapBehind != nil && *gapBehind > pitLoss*0.4 {
		return "Safety car stop is free, no position lost"
	}
	return "Safety car stop may cost a position but is worth it"
}
