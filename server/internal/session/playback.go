package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Playback speed limits. Speed divides Config.LapInterval.
const (
	MinSpeed = 0.05
	MaxSpeed = 10.0
)

// Playback states.
const (
	StatePlaying  = "playing"
	StatePaused   = "paused"
	StateFinished = "finished"
)

var (
	// ErrSeekRange is returned for a lap outside [0, total laps].
	ErrSeekRange = errors.New("session: seek lap out of range")
	// ErrFinished is returned for controls that need a running session.
	ErrFinished = errors.New("session: source exhausted")
)

// Playback describes the replay controls in effect.
type Playback struct {
	State      string  `json:"state"`
	Speed      float64 `json:"speed"`
	CurrentLap int     `json:"current_lap"`
	TotalLaps  int     `json:"total_laps"`
	// SeekTarget is set while the runner skips towards a lap.
	SeekTarget *int `json:"seek_target,omitempty"`
}

// playback is shared between the Run goroutine and the controls. Every
// change closes and replaces changed, waking a paused or pacing loop.
type playback struct {
	mu       sync.Mutex
	paused   bool
	finished bool
	speed    float64
	seeking  bool
	target   int
	changed  chan struct{}
}

func newPlayback(speed float64) *playback {
	if speed <= 0 {
		speed = 1
	}
	return &playback{speed: clampSpeed(speed), changed: make(chan struct{})}
}

func clampSpeed(x float64) float64 {
	switch {
	case x < MinSpeed:
		return MinSpeed
	case x > MaxSpeed:
		return MaxSpeed
	}
	return x
}

// notifyLocked wakes every waiter. p.mu must be held.
func (p *playback) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// seekTarget returns the pending seek, if any.
func (p *playback) seekTarget() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target, p.seeking
}

// settle ends the seek once current has reached the target and reports
// whether the runner is still skipping.
func (p *playback) settle(current int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seeking && current >= p.target {
		p.seeking = false
		p.notifyLocked()
	}
	return p.seeking
}

func (p *playback) cancelSeek() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeking = false
	p.notifyLocked()
}

func (p *playback) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	p.seeking = false
	p.notifyLocked()
}

// Playback returns the current controls.
func (r *Runner) Playback() Playback {
	rs := r.store.Get()
	p := r.play
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Playback{
		State:      StatePlaying,
		Speed:      p.speed,
		CurrentLap: rs.CurrentLap,
		TotalLaps:  rs.TotalLaps,
	}
	switch {
	case p.finished:
		out.State = StateFinished
	case p.paused:
		out.State = StatePaused
	}
	if p.seeking {
		t := p.target
		out.SeekTarget = &t
	}
	return out
}

// Pause holds the runner before its next batch. A pending seek still runs.
func (r *Runner) Pause() error {
	return r.setPaused(true)
}

// Resume undoes Pause.
func (r *Runner) Resume() error {
	return r.setPaused(false)
}

func (r *Runner) setPaused(v bool) error {
	p := r.play
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return ErrFinished
	}
	if p.paused == v {
		return nil
	}
	p.paused = v
	p.notifyLocked()
	slog.Info("session: playback changed", "run_id", r.runID, "paused", v)
	return nil
}

// SetSpeed changes the pacing multiplier and returns the value applied,
// clamped to [MinSpeed, MaxSpeed]. A lap already being paced is shortened
// or stretched in place.
func (r *Runner) SetSpeed(x float64) float64 {
	x = clampSpeed(x)
	p := r.play
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speed != x {
		p.speed = x
		p.notifyLocked()
		slog.Info("session: playback speed changed", "run_id", r.runID, "speed", x)
	}
	return x
}

// Seek moves playback to lap. Laps ahead are applied without pacing; a lap
// behind the current one restarts the source, which must be a Rewinder,
// and rebuilds every model from the first batch.
func (r *Runner) Seek(lap int) error {
	rs := r.store.Get()
	if lap < 0 || (rs.TotalLaps > 0 && lap > rs.TotalLaps) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrSeekRange, lap, rs.TotalLaps)
	}
	if lap < rs.CurrentLap {
		if _, ok := r.src.(Rewinder); !ok {
			return ErrCannotRewind
		}
	}

	p := r.play
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return ErrFinished
	}
	if lap == rs.CurrentLap && !p.seeking {
		return nil
	}
	p.seeking = true
	p.target = lap
	p.notifyLocked()
	slog.Info("session: seek requested", "run_id", r.runID, "from_lap", rs.CurrentLap, "to_lap", lap)
	return nil
}

// waitPlaying blocks while paused and no seek is pending.
func (r *Runner) waitPlaying(ctx context.Context) error {
	p := r.play
	for {
		p.mu.Lock()
		if !p.paused || p.seeking {
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// pace waits LapInterval/speed measured from start. A speed change
// re-derives the remaining wait; a seek ends it.
func (r *Runner) pace(ctx context.Context, start time.Time) error {
	if r.cfg.LapInterval <= 0 {
		return nil
	}
	p := r.play
	for {
		p.mu.Lock()
		seeking, speed, ch := p.seeking, p.speed, p.changed
		p.mu.Unlock()
		if seeking {
			return nil
		}

		wait := time.Duration(float64(r.cfg.LapInterval)/speed) - time.Since(start)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ch:
			timer.Stop()
		}
	}
}

// rewindIfNeeded restarts the source for a seek behind the current lap. A
// failed rewind cancels the seek and playback carries on.
func (r *Runner) rewindIfNeeded() {
	target, ok := r.play.seekTarget()
	if !ok || target >= r.store.Get().CurrentLap {
		return
	}
	if err := r.rewind(); err != nil {
		slog.Error("session: rewind failed, seek cancelled", "run_id", r.runID, "err", err)
		r.play.cancelSeek()
		return
	}
	r.play.settle(r.store.Get().CurrentLap)
}

// rewind restarts the source and clears everything derived from it.
func (r *Runner) rewind() error {
	rw, ok := r.src.(Rewinder)
	if !ok {
		return ErrCannotRewind
	}
	if err := rw.Rewind(); err != nil {
		return err
	}
	r.store.Reset(r.initial)
	r.models.Reset()
	r.traffic.Reset()
	r.lastModelled = make(map[int]int)
	r.pinned = make(map[int]pinnedWindow)
	r.recs.Store(nil)
	r.metrics.CurrentLap.Set(0)
	for _, o := range r.observers {
		o.Rewound()
	}
	slog.Info("session: rewound to start", "run_id", r.runID)
	return nil
}
