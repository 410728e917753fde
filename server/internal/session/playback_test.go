package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/state"
)

// rewindSource is a sliceSource that can restart.
type rewindSource struct {
	sliceSource
	rewinds int
}

func (s *rewindSource) Rewind() error {
	s.i = 0
	s.rewinds++
	return nil
}

// lapLog records what the runner reports to observers.
type lapLog struct {
	mu         sync.Mutex
	laps       []int
	rewound    int
	mismatched int
}

func (l *lapLog) ObserveLap(rs *state.RaceState, recs *Recommendations, _ telemetry.UpdateBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if recs.Lap != rs.CurrentLap {
		l.mismatched++
	}
	l.laps = append(l.laps, rs.CurrentLap)
}

func (l *lapLog) Rewound() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rewound++
	l.laps = nil
}

func (l *lapLog) snapshot() ([]int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.laps...), l.rewound
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runAsync(ctx context.Context, r *Runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func TestRunner_PauseResume(t *testing.T) {
	var r *Runner
	src := &sliceSource{batches: raceBatches(8)}
	src.onNext = func(i int) {
		if i == 3 {
			if err := r.Pause(); err != nil {
				t.Errorf("Pause: %v", err)
			}
		}
	}
	r, st, _ := newRunner(t, src, Config{}, nil)

	done := runAsync(context.Background(), r)

	// The batch in hand when the pause landed is still applied.
	waitFor(t, "pause at lap 4", func() bool {
		return r.Playback().State == StatePaused && st.Get().CurrentLap == 4
	})
	time.Sleep(30 * time.Millisecond)
	if got := st.Get().CurrentLap; got != 4 {
		t.Fatalf("paused runner advanced to lap %d", got)
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	pb := r.Playback()
	if pb.State != StateFinished || pb.CurrentLap != 8 || pb.TotalLaps != 57 {
		t.Errorf("Playback after end: %+v", pb)
	}
}

func TestRunner_SeekForwardSkipsPacing(t *testing.T) {
	src := &sliceSource{batches: raceBatches(10)}
	r, st, _ := newRunner(t, src, Config{LapInterval: time.Hour}, nil)
	if err := r.Seek(5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pb := r.Playback(); pb.SeekTarget == nil || *pb.SeekTarget != 5 {
		t.Fatalf("SeekTarget before run: %+v", pb)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)

	waitFor(t, "lap 5", func() bool { return st.Get().CurrentLap == 5 })
	if pb := r.Playback(); pb.SeekTarget != nil || pb.State != StatePlaying {
		t.Errorf("Playback after seek: %+v", pb)
	}
	// Lap 5 is now paced at an hour.
	time.Sleep(30 * time.Millisecond)
	if got := st.Get().CurrentLap; got != 5 {
		t.Errorf("runner went past the seek target to lap %d", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}
}

func TestRunner_SeekBackwardRewinds(t *testing.T) {
	var r *Runner
	src := &rewindSource{sliceSource: sliceSource{batches: raceBatches(12)}}
	src.onNext = func(i int) {
		if i == 9 {
			_ = r.Pause()
		}
	}
	r, st, reg := newRunner(t, src, Config{}, nil)
	log := &lapLog{}
	r.Observe(log)
	runID := r.RunID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, r)

	waitFor(t, "pause at lap 10", func() bool {
		return r.Playback().State == StatePaused && st.Get().CurrentLap == 10
	})
	if laps, _ := log.snapshot(); len(laps) != 10 {
		t.Fatalf("observed %d laps before the seek, want 10", len(laps))
	}

	if err := r.Seek(3); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	waitFor(t, "seek to lap 3", func() bool {
		pb := r.Playback()
		return pb.SeekTarget == nil && pb.CurrentLap == 3
	})

	if src.rewinds != 1 {
		t.Errorf("rewinds: got %d, want 1", src.rewinds)
	}
	laps, rewound := log.snapshot()
	if rewound != 1 || len(laps) != 3 || laps[0] != 1 || laps[2] != 3 {
		t.Errorf("observer after rewind: laps %v, rewound %d", laps, rewound)
	}
	if log.mismatched != 0 {
		t.Errorf("%d laps observed with recommendations for another lap", log.mismatched)
	}
	rs := st.Get()
	if rs.RunID != runID {
		t.Errorf("RunID after rewind: got %q, want %q", rs.RunID, runID)
	}
	// Driver 16 stops on lap 9; that stint is gone again.
	if d := rs.Drivers[16]; d.StintNumber != 1 || d.Compound != "MEDIUM" {
		t.Errorf("LEC after rewind: stint %d on %s", d.StintNumber, d.Compound)
	}
	if recs := r.Recommendations(); recs == nil || recs.Lap != 3 {
		t.Errorf("Recommendations after rewind: %+v", recs)
	}
	if got := reg.BatchesApplied.Value(); got != 13 {
		t.Errorf("BatchesApplied: got %d, want 13", got)
	}
	// Laps 1..3 are modelled again from fresh estimators.
	if got := reg.LapsModelled.Value(); got != 39 {
		t.Errorf("LapsModelled: got %d, want 39", got)
	}
	if r.Playback().State != StatePaused {
		t.Errorf("seek while paused should land paused, got %s", r.Playback().State)
	}

	cancel()
	<-done
}

func TestRunner_SeekErrors(t *testing.T) {
	src := &sliceSource{batches: raceBatches(6)}
	r, _, _ := newRunner(t, src, Config{}, nil)

	for _, lap := range []int{-1, 58} {
		if err := r.Seek(lap); !errors.Is(err, ErrSeekRange) {
			t.Errorf("Seek(%d): got %v, want ErrSeekRange", lap, err)
		}
	}
	if err := r.Seek(0); err != nil {
		t.Errorf("Seek to the current lap: %v", err)
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := r.Seek(2); !errors.Is(err, ErrCannotRewind) {
		t.Errorf("backward Seek without Rewinder: got %v, want ErrCannotRewind", err)
	}
	if err := r.Seek(30); !errors.Is(err, ErrFinished) {
		t.Errorf("Seek after the end: got %v, want ErrFinished", err)
	}
	if err := r.Pause(); !errors.Is(err, ErrFinished) {
		t.Errorf("Pause after the end: got %v, want ErrFinished", err)
	}
}

func TestRunner_SetSpeed(t *testing.T) {
	r, _, _ := newRunner(t, &sliceSource{}, Config{}, nil)
	if got := r.Playback().Speed; got != 1 {
		t.Fatalf("default speed: got %v, want 1", got)
	}

	tests := []struct {
		in, want float64
	}{
		{2, 2},
		{0, MinSpeed},
		{-3, MinSpeed},
		{100, MaxSpeed},
		{0.5, 0.5},
	}
	for _, tc := range tests {
		if got := r.SetSpeed(tc.in); got != tc.want {
			t.Errorf("SetSpeed(%v): got %v, want %v", tc.in, got, tc.want)
		}
		if got := r.Playback().Speed; got != tc.want {
			t.Errorf("Playback().Speed after SetSpeed(%v): got %v", tc.in, got)
		}
	}
}

func TestRunner_SpeedScalesPacing(t *testing.T) {
	src := &sliceSource{batches: raceBatches(3)}
	r, st, _ := newRunner(t, src, Config{LapInterval: 200 * time.Millisecond, Speed: 10}, nil)

	start := time.Now()
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// At speed 1 three laps take 600ms.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("three laps at 10x took %v, want about 60ms", elapsed)
	}
	if st.Get().CurrentLap != 3 {
		t.Errorf("CurrentLap: got %d, want 3", st.Get().CurrentLap)
	}
}

func TestRunner_SpeedChangeShortensCurrentLap(t *testing.T) {
	src := &sliceSource{batches: raceBatches(2)}
	r, st, _ := newRunner(t, src, Config{LapInterval: 300 * time.Millisecond}, nil)

	start := time.Now()
	done := runAsync(context.Background(), r)
	waitFor(t, "lap 1", func() bool { return st.Get().CurrentLap == 1 })
	r.SetSpeed(MaxSpeed)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two laps at speed 1 take 600ms.
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("two laps took %v after speeding up during lap 1", elapsed)
	}
}
