package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pitwall/pitwall/pkg/telemetry"
)

// maxLineSize bounds one recorded batch.
const maxLineSize = 4 << 20

// Source yields telemetry batches in order. Next returns io.EOF once the
// session has no more data.
type Source interface {
	Next(ctx context.Context) (telemetry.UpdateBatch, error)
}

// ErrCannotRewind is returned when a source cannot restart from its first batch.
var ErrCannotRewind = errors.New("session: source cannot rewind")

// Rewinder is a Source that can restart from its first batch.
type Rewinder interface {
	Rewind() error
}

// Replay reads recorded batches, one JSON object per line.
type Replay struct {
	r      io.Reader
	sc     *bufio.Scanner
	closer io.Closer
	line   int
}

// NewReplay opens a JSON-lines recording.
func NewReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open replay %q: %w", path, err)
	}
	r := NewReplayReader(f)
	r.closer = f
	return r, nil
}

// NewReplayReader reads a JSON-lines recording from r. The replay can
// rewind when r is an io.Seeker.
func NewReplayReader(r io.Reader) *Replay {
	return &Replay{r: r, sc: newScanner(r)}
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return sc
}

// Rewind restarts the replay from its first line.
func (r *Replay) Rewind() error {
	s, ok := r.r.(io.Seeker)
	if !ok {
		return ErrCannotRewind
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("session: rewind replay: %w", err)
	}
	r.sc = newScanner(r.r)
	r.line = 0
	return nil
}

// Next returns the next batch. Blank lines are skipped.
func (r *Replay) Next(ctx context.Context) (telemetry.UpdateBatch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return telemetry.UpdateBatch{}, err
		}
		if !r.sc.Scan() {
			if err := r.sc.Err(); err != nil {
				return telemetry.UpdateBatch{}, fmt.Errorf("session: read replay: %w", err)
			}
			return telemetry.UpdateBatch{}, io.EOF
		}
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var b telemetry.UpdateBatch
		if err := json.Unmarshal(line, &b); err != nil {
			return telemetry.UpdateBatch{}, fmt.Errorf("session: replay line %d: %w", r.line, err)
		}
		return b, nil
	}
}

// Close releases the underlying file, if any.
func (r *Replay) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
