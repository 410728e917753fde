package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/degradation"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/montecarlo"
	"github.com/pitwall/pitwall/server/internal/state"
	"github.com/pitwall/pitwall/server/internal/strategy"
)

// Config holds the runner settings fixed for a session.
type Config struct {
	// LapInterval paces the loop; 0 applies batches as fast as the source
	// yields them.
	LapInterval time.Duration
	// Speed divides LapInterval. 0 means 1.
	Speed float64
	// FocusDriver gets a Monte Carlo comparison each lap; 0 disables it.
	FocusDriver  int
	OutlierSigma float64
	Traffic      degradation.TrafficConfig
}

// Tuning is the part of the configuration that can change mid-session.
type Tuning struct {
	Strategy  strategy.Tuning
	Simulator *montecarlo.Simulator
}

// Recommendations is the set of decisions produced for one lap.
type Recommendations struct {
	Lap       int
	Generated time.Time
	ByDriver  map[int]strategy.Recommendation
}

// Sorted returns the recommendations ordered by driver number.
func (r *Recommendations) Sorted() []strategy.Recommendation {
	if r == nil {
		return nil
	}
	out := make([]strategy.Recommendation, 0, len(r.ByDriver))
	for _, rec := range r.ByDriver {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverNumber < out[j].DriverNumber })
	return out
}

// LapObserver is told about every lap the runner publishes.
type LapObserver interface {
	// ObserveLap receives the published state, the decisions made on it and
	// the batch that produced it. It runs on the Run goroutine.
	ObserveLap(rs *state.RaceState, recs *Recommendations, b telemetry.UpdateBatch)
	// Rewound is called after the source restarts from its first batch.
	Rewound()
}

type pinnedWindow struct {
	stint  int
	window strategy.Window
}

// Runner is the single writer of a session's store.
type Runner struct {
	cfg     Config
	src     Source
	store   *state.Store
	models  *degradation.Manager
	traffic *degradation.TrafficTracker
	metrics *metrics.Registry
	runID   string
	now     func() time.Time
	initial state.RaceState
	play    *playback

	observers []LapObserver

	tuning atomic.Pointer[Tuning]
	recs   atomic.Pointer[Recommendations]

	// Owned by the Run goroutine.
	lastModelled map[int]int
	pinned       map[int]pinnedWindow
}

// NewRunner wires a runner. The store's state is stamped with a new run ID.
// A nil registry disables nothing; a private one is created.
func NewRunner(cfg Config, src Source, st *state.Store, models *degradation.Manager, reg *metrics.Registry, t Tuning) *Runner {
	if reg == nil {
		reg = metrics.New()
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = 3
	}
	r := &Runner{
		cfg:          cfg,
		src:          src,
		store:        st,
		models:       models,
		traffic:      degradation.NewTrafficTracker(cfg.Traffic),
		metrics:      reg,
		runID:        uuid.NewString(),
		now:          time.Now,
		play:         newPlayback(cfg.Speed),
		lastModelled: make(map[int]int),
		pinned:       make(map[int]pinnedWindow),
	}
	r.tuning.Store(&t)
	r.initial = *st.Modify(func(rs state.RaceState) state.RaceState {
		rs.RunID = r.runID
		return rs
	})
	return r
}

// Observe registers o. It must be called before Run.
func (r *Runner) Observe(o LapObserver) {
	r.observers = append(r.observers, o)
}

// RunID identifies this run in logs and snapshots.
func (r *Runner) RunID() string { return r.runID }

// SetTuning swaps the strategy and simulation parameters. It takes effect
// from the next lap. A nil simulator keeps the current one.
func (r *Runner) SetTuning(t Tuning) {
	if t.Simulator == nil {
		t.Simulator = r.Tuning().Simulator
	}
	r.tuning.Store(&t)
	slog.Info("session: tuning updated", "run_id", r.runID,
		"pit_loss", t.Strategy.PitLoss, "min_stint_laps", t.Strategy.MinStintLaps)
}

// Tuning returns the parameters in effect.
func (r *Runner) Tuning() Tuning { return *r.tuning.Load() }

// Recommendations returns the decisions of the last completed lap, or nil
// before the first one.
func (r *Runner) Recommendations() *Recommendations { return r.recs.Load() }

// Run applies batches until the source is exhausted or ctx is cancelled.
// Cancellation is honoured between laps, so the store always holds a fully
// applied state. It returns nil at the end of the source.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("session: run started", "run_id", r.runID,
		"lap_interval", r.cfg.LapInterval, "speed", r.Playback().Speed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.waitPlaying(ctx); err != nil {
			return err
		}
		r.rewindIfNeeded()

		start := time.Now()
		b, err := r.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.play.finish()
			slog.Info("session: source exhausted", "run_id", r.runID, "lap", r.store.Get().CurrentLap)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: next batch: %w", err)
		}

		r.Step(b)

		if r.play.settle(r.store.Get().CurrentLap) {
			continue
		}
		if err := r.pace(ctx, start); err != nil {
			return err
		}
	}
}

// Step processes one batch: apply, model, decide, publish. It must only be
// called from the goroutine that owns the runner.
func (r *Runner) Step(b telemetry.UpdateBatch) {
	t := r.Tuning()
	rs := r.store.Apply(b)
	r.metrics.BatchesApplied.Inc()

	r.model(rs, b)

	preds := r.models.Predictions(t.Strategy.PredictionHorizon)
	estimated := withEstimates(*rs, preds)
	recs := r.decide(&estimated, t)

	published := r.store.Modify(func(cur state.RaceState) state.RaceState {
		return withDecisions(withEstimates(cur, preds), recs)
	})

	for _, rec := range recs {
		r.metrics.Recommendation(rec.Action.String())
	}
	r.metrics.CurrentLap.Set(int64(rs.CurrentLap))
	out := &Recommendations{Lap: rs.CurrentLap, Generated: r.now(), ByDriver: recs}
	r.recs.Store(out)

	for _, o := range r.observers {
		o.ObserveLap(published, out, b)
	}
}

// model feeds each new lap of the batch to the driver's estimator.
func (r *Runner) model(rs *state.RaceState, b telemetry.UpdateBatch) {
	pitIn := make(map[[2]int]bool, len(b.Pits))
	for _, p := range b.Pits {
		pitIn[[2]int{p.DriverNumber, p.LapNumber}] = true
	}

	for _, lap := range b.Laps {
		if lap.LapDuration == nil || lap.LapNumber <= 0 {
			continue
		}
		d, ok := rs.Driver(lap.DriverNumber)
		if !ok || lap.LapNumber <= r.lastModelled[lap.DriverNumber] {
			continue
		}
		r.lastModelled[lap.DriverNumber] = lap.LapNumber

		lapTime := *lap.LapDuration
		lapInStint := lap.LapNumber - d.StintStartLap + 1
		if lapInStint < 1 {
			lapInStint = 1
		}

		valid := degradation.IsValidLap(lapTime, degradation.LapConditions{
			PitIn:     pitIn[[2]int{lap.DriverNumber, lap.LapNumber}],
			PitOut:    lap.IsPitOutLap,
			SafetyCar: rs.SafetyCar,
			VSC:       rs.VirtualSafetyCar,
		})
		if inTraffic, _ := r.traffic.Update(lap.DriverNumber, d.GapToAhead); inTraffic {
			valid = false
		}
		if valid && r.models.IsOutlier(lap.DriverNumber, d.StintNumber, lapTime, r.cfg.OutlierSigma) {
			valid = false
		}

		r.models.UpdateDriver(degradation.Observation{
			DriverNumber: lap.DriverNumber,
			Lap:          lap.LapNumber,
			LapInStint:   lapInStint,
			LapTime:      lapTime,
			StintNumber:  d.StintNumber,
			Compound:     d.Compound,
			Valid:        valid,
		})
		r.metrics.LapsModelled.Inc()
		if !valid {
			r.metrics.LapsRejected.Inc()
		}
	}
}

// decide evaluates every running driver. The focus driver's CONSIDER_PIT
// can be settled by a Monte Carlo comparison.
func (r *Runner) decide(rs *state.RaceState, t Tuning) map[int]strategy.Recommendation {
	out := make(map[int]strategy.Recommendation, len(rs.Drivers))
	for _, d := range rs.SortedDrivers() {
		if d.Retired {
			continue
		}
		dc, rc, ok := strategy.BuildContext(rs, d.DriverNumber, t.Strategy)
		if !ok {
			continue
		}
		if p, ok := r.pinned[d.DriverNumber]; ok && p.stint == d.StintNumber {
			w := p.window
			dc.PinnedWindow = &w
		}
		if d.DriverNumber == r.cfg.FocusDriver && t.Simulator != nil {
			rc.Comparison = r.compare(rs, d.DriverNumber, t)
		}

		rec := strategy.Evaluate(dc, rc)
		out[d.DriverNumber] = rec
		r.pinned[d.DriverNumber] = pinnedWindow{stint: d.StintNumber, window: rec.Window}
	}
	return out
}

func (r *Runner) compare(rs *state.RaceState, number int, t Tuning) *strategy.Comparison {
	p, ok := montecarlo.ParamsFor(rs, number, t.Strategy.PitLoss, t.Strategy.RivalDefaultDeg)
	if !ok || p.RemainingLaps <= 0 {
		return nil
	}
	c := t.Simulator.CompareStrategies(p)
	return &strategy.Comparison{
		PitNowExpected:  c.PitNow.ExpectedPosition,
		StayOutExpected: c.StayOut.ExpectedPosition,
		AlternativeLap:  laterRaceLap(rs.CurrentLap, c.LaterLap),
	}
}

// laterRaceLap converts a simulated lap index into a race lap.
func laterRaceLap(current, simLap int) int {
	if simLap == montecarlo.NoStop {
		return 0
	}
	return current + simLap + 1
}

func withEstimates(rs state.RaceState, preds map[int]degradation.Prediction) state.RaceState {
	updated := make([]state.DriverState, 0, len(preds))
	for n, p := range preds {
		d, ok := rs.Driver(n)
		if !ok {
			continue
		}
		d.DegSlope = p.DegSlope
		d.CliffRisk = p.CliffRisk
		d.PredictedPace = append([]float64(nil), p.PredictedNext...)
		d.ModelConfidence = p.ModelConfidence
		updated = append(updated, d)
	}
	return rs.WithDrivers(updated)
}

func withDecisions(rs state.RaceState, recs map[int]strategy.Recommendation) state.RaceState {
	updated := make([]state.DriverState, 0, len(recs))
	for n, rec := range recs {
		d, ok := rs.Driver(n)
		if !ok {
			continue
		}
		updated = append(updated, strategy.Apply(d, rec))
	}
	return rs.WithDrivers(updated)
}
