package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is the quiet period after the last file event before
// a reload. An editor save is usually several events.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes and hands the result,
// resolved for one track, to OnChange.
//
// Only the strategy, monte_carlo, physics and tracks sections take effect
// mid-session. Changes elsewhere are logged as needing a restart.
type Watcher struct {
	Path    string
	TrackID string
	// Debounce defaults to DefaultReloadDebounce.
	Debounce time.Duration
	// OnChange receives every reload that parses, validates, resolves for
	// TrackID and differs from the config in effect.
	OnChange func(*Config)

	current *Config
}

// NewWatcher returns a Watcher for path. current is the track-resolved
// config already in effect; nil treats the first reload as a change.
func NewWatcher(path, trackID string, current *Config, onChange func(*Config)) *Watcher {
	return &Watcher{Path: path, TrackID: trackID, OnChange: onChange, current: current}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// that saves which replace the file are seen.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := os.Stat(w.Path); err != nil {
		return fmt.Errorf("config: watch %q: %w", w.Path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %q: %w", w.Path, err)
	}
	slog.Info("config: watching for changes", "path", w.Path, "track_id", w.TrackID)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			pending = time.After(w.debounce())

		case <-pending:
			pending = nil
			if next, ok := w.reload(); ok {
				w.OnChange(next)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce > 0 {
		return w.Debounce
	}
	return DefaultReloadDebounce
}

// reload loads and resolves the file. It reports false when the previous
// config should stay in effect.
func (w *Watcher) reload() (*Config, bool) {
	base, err := Load(w.Path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous config", "path", w.Path, "err", err)
		return nil, false
	}
	next, err := base.ForTrack(w.TrackID)
	if err != nil {
		slog.Error("config: track override rejected, keeping previous config", "track_id", w.TrackID, "err", err)
		return nil, false
	}
	if w.current != nil {
		if reflect.DeepEqual(w.current, next) {
			slog.Debug("config: file changed but config did not", "path", w.Path)
			return nil, false
		}
		for _, section := range restartSections(w.current, next) {
			slog.Warn("config: change needs a restart to apply", "section", section)
		}
	}
	w.current = next
	slog.Info("config: reloaded", "path", w.Path, "track_id", w.TrackID,
		"pit_loss", next.Strategy.PitLoss, "simulations", next.MonteCarlo.Simulations)
	return next, true
}

// restartSections names the sections that differ between a and b but are
// only read at startup.
func restartSections(a, b *Config) []string {
	var out []string
	for _, s := range []struct {
		name string
		x, y interface{}
	}{
		{"server", a.Server, b.Server},
		{"session", a.Session, b.Session},
		{"degradation", a.Degradation, b.Degradation},
		{"traffic", a.Traffic, b.Traffic},
		{"alerts", a.Alerts, b.Alerts},
	} {
		if !reflect.DeepEqual(s.x, s.y) {
			out = append(out, s.name)
		}
	}
	return out
}
