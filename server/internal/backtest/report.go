package backtest

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// recentDecisions is how many of the latest decisions Format lists.
const recentDecisions = 5

// Format renders rep as a plain-text summary.
func Format(rep Report) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	name := rep.SessionName
	if name == "" {
		name = "session " + rep.SessionKey
	}

	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "BACKTEST REPORT - %s\n", name)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Total Decisions: %d (%d scored)\n", rep.TotalDecisions, rep.ScoredDecisions)
	fmt.Fprintf(&b, "Correct Decisions: %d\n", rep.CorrectDecisions)
	fmt.Fprintf(&b, "Accuracy: %.1f%%\n", rep.Accuracy*100)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Avg Pit Timing Error: %.1f laps\n", rep.AvgPitTimingError)
	fmt.Fprintf(&b, "Total Position Gain: %+d\n", rep.TotalPositionGain)
	fmt.Fprintf(&b, "Avg Position Gain: %+.2f\n", rep.AvgPositionGain)
	fmt.Fprintln(&b)

	if len(rep.Decisions) > 0 {
		fmt.Fprintln(&b, "Recent Decisions:")
		start := len(rep.Decisions) - recentDecisions
		if start < 0 {
			start = 0
		}
		for _, d := range rep.Decisions[start:] {
			fmt.Fprintf(&b, "  %s Lap %d: #%d recommended %s, driver %s (Δ%+d)\n",
				mark(d), d.Lap, d.DriverNumber, d.Recommended, d.Actual, d.PositionDelta)
		}
	}
	b.WriteString(rule)
	return b.String()
}

func mark(d Decision) string {
	switch {
	case !d.Scored:
		return "-"
	case d.Correct:
		return "✓"
	}
	return "✗"
}

// Write renders rep to w.
func Write(w io.Writer, rep Report) error {
	if _, err := io.WriteString(w, Format(rep)+"\n"); err != nil {
		return fmt.Errorf("backtest: write report: %w", err)
	}
	return nil
}

// WriteFile renders rep to path, replacing any existing file.
func WriteFile(path string, rep Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: create %q: %w", path, err)
	}
	if err := Write(f, rep); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("backtest: close %q: %w", path, err)
	}
	return nil
}
