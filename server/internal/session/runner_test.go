package session

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/degradation"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

var t0 = time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)

// sliceSource serves batches from memory and calls onNext before each one.
type sliceSource struct {
	batches []telemetry.UpdateBatch
	i       int
	onNext  func(i int)
}

func (s *sliceSource) Next(ctx context.Context) (telemetry.UpdateBatch, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.UpdateBatch{}, err
	}
	if s.i >= len(s.batches) {
		return telemetry.UpdateBatch{}, io.EOF
	}
	if s.onNext != nil {
		s.onNext(s.i)
	}
	b := s.batches[s.i]
	s.i++
	return b, nil
}

// raceBatches builds laps 1..n for three drivers. Driver 16 stops on lap 9
// and runs HARD from lap 10. A safety car covers laps 15 and 16.
func raceBatches(n int) []telemetry.UpdateBatch {
	deg := map[int]float64{1: 0.08, 44: 0.05, 16: 0.06}
	out := make([]telemetry.UpdateBatch, 0, n)
	for lap := 1; lap <= n; lap++ {
		ts := t0.Add(time.Duration(lap*90) * time.Second)
		b := telemetry.UpdateBatch{SessionKey: "9472", Timestamp: ts, CurrentLap: lap}
		if lap == 1 {
			b.Drivers = []telemetry.DriverInfo{
				{DriverNumber: 1, NameAcronym: "VER"},
				{DriverNumber: 44, NameAcronym: "HAM"},
				{DriverNumber: 16, NameAcronym: "LEC"},
			}
			b.Stints = []telemetry.StintRecord{
				{DriverNumber: 1, StintNumber: 1, Compound: "MEDIUM", LapStart: 1},
				{DriverNumber: 44, StintNumber: 1, Compound: "MEDIUM", LapStart: 1},
				{DriverNumber: 16, StintNumber: 1, Compound: "MEDIUM", LapStart: 1},
			}
		}
		b.Positions = []telemetry.PositionRecord{
			{DriverNumber: 1, Position: 1, Timestamp: ts},
			{DriverNumber: 44, Position: 2, Timestamp: ts},
			{DriverNumber: 16, Position: 3, Timestamp: ts},
		}
		b.Intervals = []telemetry.IntervalRecord{
			{DriverNumber: 1, GapToLeader: telemetry.Float(0), Timestamp: ts},
			{DriverNumber: 44, GapToLeader: telemetry.Float(2.5), Interval: telemetry.Float(2.5), Timestamp: ts},
			{DriverNumber: 16, GapToLeader: telemetry.Float(5), Interval: telemetry.Float(2.5), Timestamp: ts},
		}

		sc := lap == 15 || lap == 16
		for _, num := range []int{1, 44, 16} {
			start := 1
			if num == 16 && lap >= 10 {
				start = 10
			}
			lapInStint := lap - start + 1
			lt := 90 + deg[num]*float64(lapInStint) + 0.05*float64(1-2*(lap%2))
			if sc {
				lt = 110
			}
			b.Laps = append(b.Laps, telemetry.LapRecord{
				DriverNumber: num,
				LapNumber:    lap,
				LapDuration:  telemetry.Float(lt),
				IsPitOutLap:  num == 16 && lap == 10,
				Timestamp:    ts,
			})
		}
		if lap == 9 {
			b.Pits = []telemetry.PitRecord{{DriverNumber: 16, LapNumber: 9, PitDuration: telemetry.Float(2.4), Timestamp: ts}}
		}
		if lap == 10 {
			b.Stints = []telemetry.StintRecord{{DriverNumber: 16, StintNumber: 2, Compound: "HARD", LapStart: 10}}
		}
		if lap == 15 {
			b.RaceControl = []telemetry.RaceControlRecord{{Category: "SafetyCar", Message: "SAFETY CAR DEPLOYED", Timestamp: ts}}
		}
		if lap == 17 {
			b.RaceControl = []telemetry.RaceControlRecord{{Category: "Flag", Flag: "GREEN", Message: "TRACK CLEAR", Timestamp: ts}}
		}
		out = append(out, b)
	}
	return out
}

func newRunner(t *testing.T, src Source, cfg Config, sim *montecarlo.Simulator) (*Runner, *state.Store, *metrics.Registry) {
	t.Helper()
	st := state.NewStore(state.New("9472", 57))
	t.Cleanup(st.Close)
	reg := metrics.New()
	mgr := degradation.NewManager(degradation.DefaultModelConfig(), nil)
	r := NewRunner(cfg, src, st, mgr, reg, Tuning{Strategy: strategy.DefaultTuning(), Simulator: sim})
	return r, st, reg
}

func TestRunner_RunsToEndOfSource(t *testing.T) {
	src := &sliceSource{batches: raceBatches(20)}
	r, st, reg := newRunner(t, src, Config{}, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rs := st.Get()
	if rs.CurrentLap != 20 {
		t.Fatalf("CurrentLap: got %d, want 20", rs.CurrentLap)
	}
	if rs.RunID == "" || rs.RunID != r.RunID() {
		t.Errorf("RunID: got %q, want %q", rs.RunID, r.RunID())
	}

	if got := reg.BatchesApplied.Value(); got != 20 {
		t.Errorf("BatchesApplied: got %d, want 20", got)
	}
	if got := reg.LapsModelled.Value(); got != 60 {
		t.Errorf("LapsModelled: got %d, want 60", got)
	}
	// Two safety-car laps for three drivers, plus the in and out laps.
	if got := reg.LapsRejected.Value(); got < 8 {
		t.Errorf("LapsRejected: got %d, want at least 8", got)
	}
	if reg.CurrentLap.Value() != 20 {
		t.Errorf("CurrentLap gauge: got %d", reg.CurrentLap.Value())
	}

	ver := rs.Drivers[1]
	if math.Abs(ver.DegSlope-0.08) > 0.02 {
		t.Errorf("VER DegSlope: got %v, want about 0.08", ver.DegSlope)
	}
	if len(ver.PredictedPace) != strategy.DefaultTuning().PredictionHorizon {
		t.Errorf("PredictedPace: got %d values", len(ver.PredictedPace))
	}
	if ver.ModelConfidence <= 0.3 {
		t.Errorf("ModelConfidence: got %v", ver.ModelConfidence)
	}

	recs := r.Recommendations()
	if recs == nil || recs.Lap != 20 || len(recs.ByDriver) != 3 {
		t.Fatalf("Recommendations: got %+v", recs)
	}
	for _, rec := range recs.Sorted() {
		d := rs.Drivers[rec.DriverNumber]
		if d.PitRecommendation != rec.Action.String() {
			t.Errorf("driver %d: state says %s, recommendation %s", rec.DriverNumber, d.PitRecommendation, rec.Action)
		}
		if d.PitWindowIdeal != rec.Window.IdealLap {
			t.Errorf("driver %d: window not written to state", rec.DriverNumber)
		}
	}

	lec := rs.Drivers[16]
	if lec.StintNumber != 2 || lec.Compound != "HARD" {
		t.Errorf("LEC stint: got %d %s", lec.StintNumber, lec.Compound)
	}
}

func TestRunner_CancelBetweenLaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{batches: raceBatches(20)}
	src.onNext = func(i int) {
		if i == 6 {
			cancel()
		}
	}
	r, st, _ := newRunner(t, src, Config{}, nil)

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
	// The batch in hand when the cancel landed is still applied in full.
	rs := st.Get()
	if rs.CurrentLap != 7 {
		t.Errorf("CurrentLap: got %d, want 7", rs.CurrentLap)
	}
	for num, d := range rs.Drivers {
		if d.CurrentLap != 7 {
			t.Errorf("driver %d at lap %d, race at 7", num, d.CurrentLap)
		}
		if d.PitRecommendation == "" {
			t.Errorf("driver %d has no decision for the last lap", num)
		}
	}
}

func TestRunner_ReplayedLapsNotModelledTwice(t *testing.T) {
	batches := raceBatches(5)
	batches = append(batches, batches[4], batches[3])
	r, _, reg := newRunner(t, &sliceSource{batches: batches}, Config{}, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := reg.LapsModelled.Value(); got != 15 {
		t.Errorf("LapsModelled: got %d, want 15", got)
	}
	if got := reg.BatchesApplied.Value(); got != 7 {
		t.Errorf("BatchesApplied: got %d, want 7", got)
	}
}

func TestRunner_FocusDriverComparison(t *testing.T) {
	mc := montecarlo.DefaultConfig()
	mc.Simulations = 60
	mc.Seed = 7
	var trials int
	sim := montecarlo.New(mc, montecarlo.DefaultPhysics(), montecarlo.Hooks{OnTrials: func(n int) { trials += n }})

	src := &sliceSource{batches: raceBatches(12)}
	r, _, _ := newRunner(t, src, Config{FocusDriver: 44}, sim)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := r.Recommendations()
	if recs.ByDriver[44].Comparison == nil {
		t.Fatal("focus driver has no comparison")
	}
	if recs.ByDriver[1].Comparison != nil {
		t.Error("non-focus driver has a comparison")
	}
	// Two runs of 60 per lap.
	if trials != 12*120 {
		t.Errorf("trials: got %d, want %d", trials, 12*120)
	}
}

func TestRunner_SetTuning(t *testing.T) {
	sim := montecarlo.New(montecarlo.DefaultConfig(), montecarlo.DefaultPhysics(), montecarlo.Hooks{})
	r, _, _ := newRunner(t, &sliceSource{}, Config{}, sim)

	tun := strategy.DefaultTuning()
	tun.PitLoss = 19.5
	r.SetTuning(Tuning{Strategy: tun})

	got := r.Tuning()
	if got.Strategy.PitLoss != 19.5 {
		t.Errorf("PitLoss: got %v, want 19.5", got.Strategy.PitLoss)
	}
	if got.Simulator != sim {
		t.Error("nil simulator replaced the current one")
	}
}

func TestRunner_LapInterval(t *testing.T) {
	src := &sliceSource{batches: raceBatches(3)}
	r, st, _ := newRunner(t, src, Config{LapInterval: 10 * time.Millisecond}, nil)

	start := time.Now()
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("three paced laps took %v", elapsed)
	}
	if st.Get().CurrentLap != 3 {
		t.Errorf("CurrentLap: got %d, want 3", st.Get().CurrentLap)
	}
}

func TestLaterRaceLap(t *testing.T) {
	if got := laterRaceLap(20, montecarlo.NoStop); got != 0 {
		t.Errorf("NoStop: got %d, want 0", got)
	}
	if got := laterRaceLap(20, 15); got != 36 {
		t.Errorf("laterRaceLap(20, 15): got %d, want 36", got)
	}
}
