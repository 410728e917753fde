package backtest

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/session"
	"github.com/pitwall/pitwall/server/internal/state"
)

// Recorder collects calls, stops and positions from a running session. It
// implements session.LapObserver and is safe to read while the runner
// writes to it.
type Recorder struct {
	mu          sync.Mutex
	sessionKey  string
	sessionName string
	totalLaps   int
	calls       []Call
	last        map[int]string
	pits        map[int][]int
	seenPit     map[[2]int]bool
	positions   map[int]map[int]int
}

var _ session.LapObserver = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.resetLocked()
	return r
}

func (r *Recorder) resetLocked() {
	r.calls = nil
	r.last = make(map[int]string)
	r.pits = make(map[int][]int)
	r.seenPit = make(map[[2]int]bool)
	r.positions = make(map[int]map[int]int)
}

// ObserveLap records the positions at the end of the lap, any stops in the
// batch, and a Call for every driver whose action changed.
func (r *Recorder) ObserveLap(rs *state.RaceState, recs *session.Recommendations, b telemetry.UpdateBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessionKey = rs.SessionKey
	r.sessionName = rs.SessionName
	r.totalLaps = rs.TotalLaps

	for n, d := range rs.Drivers {
		if d.Position <= 0 {
			continue
		}
		byLap, ok := r.positions[n]
		if !ok {
			byLap = make(map[int]int)
			r.positions[n] = byLap
		}
		byLap[rs.CurrentLap] = d.Position
	}

	for _, p := range b.Pits {
		key := [2]int{p.DriverNumber, p.LapNumber}
		if p.LapNumber <= 0 || r.seenPit[key] {
			continue
		}
		r.seenPit[key] = true
		r.pits[p.DriverNumber] = append(r.pits[p.DriverNumber], p.LapNumber)
	}

	if recs == nil {
		return
	}
	for _, rec := range recs.Sorted() {
		action := rec.Action.String()
		if r.last[rec.DriverNumber] == action {
			continue
		}
		r.last[rec.DriverNumber] = action
		ideal := 0
		if !rec.Window.Degenerate() {
			ideal = rec.Window.IdealLap
		}
		r.calls = append(r.calls, Call{
			DriverNumber: rec.DriverNumber,
			Lap:          recs.Lap,
			Action:       action,
			IdealLap:     ideal,
		})
	}
}

// Rewound drops everything recorded so far.
func (r *Recorder) Rewound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	slog.Debug("backtest: recorder reset after rewind")
}

// Input returns a copy of what has been recorded.
func (r *Recorder) Input() Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := Input{
		SessionKey:  r.sessionKey,
		SessionName: r.sessionName,
		TotalLaps:   r.totalLaps,
		Calls:       append([]Call(nil), r.calls...),
		Pits:        make(map[int][]int, len(r.pits)),
		Positions:   make(map[int]map[int]int, len(r.positions)),
	}
	for n, laps := range r.pits {
		cp := append([]int(nil), laps...)
		sort.Ints(cp)
		in.Pits[n] = cp
	}
	for n, byLap := range r.positions {
		cp := make(map[int]int, len(byLap))
		for lap, pos := range byLap {
			cp[lap] = pos
		}
		in.Positions[n] = cp
	}
	return in
}

// Report scores everything recorded so far.
func (r *Recorder) Report() Report {
	return Score(r.Input())
}
