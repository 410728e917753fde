package montecarlo

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

// NoStop as a pit lap means the driver does not stop.
const NoStop = -1

// Competitor is one rival in a race simulation.
type Competitor struct {
	DriverNumber int
	Pace         float64 // base lap time, s
	Deg          float64 // s/lap
	// Offset is the rival's starting time relative to the subject driver;
	// negative when the rival is ahead on track.
	Offset float64
}

// Params describes one SimulateRace call.
type Params struct {
	DriverNumber  int
	Pace          float64
	Deg           float64
	Position      int
	Competitors   []Competitor
	RemainingLaps int
	PitLoss       float64
	// PitLap is the simulated lap index of the stop, counted from 0 for
	// the next lap, or NoStop.
	PitLap int

	// Simulations and Seed override the simulator config when non-zero.
	Simulations int
	Seed        int64
}

// Hooks receives simulator events. Either field may be nil.
type Hooks struct {
	OnTrials   func(n int)
	OnFallback func(err error)
}

// Simulator runs Monte Carlo race simulations. It is safe for concurrent use.
type Simulator struct {
	cfg     Config
	physics Physics
	hooks   Hooks

	trial func(p *Params, cfg *Config, rng *rand.Rand) int
	seeds func() int64
}

// New creates a Simulator.
func New(cfg Config, physics Physics, hooks Hooks) *Simulator {
	return &Simulator{
		cfg:     cfg.withDefaults(),
		physics: physics,
		hooks:   hooks,
		trial:   runTrial,
		seeds:   func() int64 { return time.Now().UnixNano() },
	}
}

// Config returns the effective configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Physics returns the lap-time model.
func (s *Simulator) Physics() Physics { return s.physics }

// SimulateRace samples p.Simulations race continuations and aggregates the
// subject driver's finishing positions. It never fails: a parallel run that
// errors is repeated sequentially with the same seeds.
func (s *Simulator) SimulateRace(p Params) Outcome {
	n := p.Simulations
	if n <= 0 {
		n = s.cfg.Simulations
	}
	seed := s.baseSeed(p.Seed)
	cfg := s.cfg

	positions := make([]int, n)
	failed := s.forEach(n, seed, func(i int, rng *rand.Rand) {
		positions[i] = s.trial(&p, &cfg, rng)
	})
	if len(failed) > 0 {
		kept := positions[:0]
		for i, pos := range positions {
			if !failed[i] {
				kept = append(kept, pos)
			}
		}
		positions = kept
	}

	out := summarize(p.DriverNumber, positions, len(p.Competitors)+1)
	out.Seed = seed
	out.PitLap = p.PitLap
	return out
}

func (s *Simulator) baseSeed(override int64) int64 {
	switch {
	case override != 0:
		return override
	case s.cfg.Seed != 0:
		return s.cfg.Seed
	}
	return s.seeds()
}

// forEach runs fn for trials 0..n-1, each with its own generator seeded
// base+i. Runs above the parallel threshold are spread over the worker pool;
// if that fails the whole run is repeated sequentially. A trial that panics
// in the sequential pass is skipped and its index returned in failed.
func (s *Simulator) forEach(n int, base int64, fn func(i int, rng *rand.Rand)) (failed map[int]bool) {
	if n > s.cfg.ParallelThreshold {
		err := s.parallel(n, base, fn)
		if err == nil {
			s.trialsDone(n)
			return nil
		}
		slog.Warn("montecarlo: parallel run failed, retrying sequentially", "trials", n, "err", err)
		if s.hooks.OnFallback != nil {
			s.hooks.OnFallback(err)
		}
	}
	for i := 0; i < n; i++ {
		if err := runTrials(i, i+1, base, fn); err != nil {
			slog.Error("montecarlo: trial dropped", "trial", i, "err", err)
			if failed == nil {
				failed = make(map[int]bool)
			}
			failed[i] = true
		}
	}
	s.trialsDone(n - len(failed))
	return failed
}

// runTrials runs trials start..end-1 and turns a panic into an error.
func runTrials(start, end int, base int64, fn func(i int, rng *rand.Rand)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("montecarlo: trial panicked: %v", r)
		}
	}()
	for i := start; i < end; i++ {
		fn(i, rand.New(rand.NewSource(base+int64(i))))
	}
	return nil
}

func (s *Simulator) parallel(n int, base int64, fn func(i int, rng *rand.Rand)) error {
	workers := s.cfg.workers()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		start, end := start, start+chunk
		if end > n {
			end = n
		}
		g.Go(func() error {
			return runTrials(start, end, base, fn)
		})
	}
	return g.Wait()
}

func (s *Simulator) trialsDone(n int) {
	if s.hooks.OnTrials != nil {
		s.hooks.OnTrials(n)
	}
}
