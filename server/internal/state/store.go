package state

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pitwall/pitwall/pkg/telemetry"
)

const (
	// DefaultHistory is the number of published states retained by History.
	DefaultHistory = 100

	// defaultSubBuffer is the per-subscriber queue depth.
	defaultSubBuffer = 16
)

// Subscriber is called with every newly published state, from a goroutine
// owned by the subscription. It must not modify the state. A returned error
// or a panic is logged and does not affect other subscribers.
type Subscriber func(rs *RaceState) error

// Option configures a Store.
type Option func(*Store)

// WithHistory sets how many published states are kept. Zero disables history.
func WithHistory(n int) Option {
	return func(s *Store) { s.maxHistory = n }
}

// WithBuffer sets the per-subscriber queue depth (minimum 1).
func WithBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithDropHook registers fn to be called whenever a queued state is dropped
// because a subscriber fell behind.
func WithDropHook(fn func()) Option {
	return func(s *Store) { s.onDrop = fn }
}

// Store is the single owner of the current RaceState.
//
// Writers (Apply, Modify, Reset) are serialized by a mutex. Readers call Get,
// which loads the latest published pointer without locking and therefore never
// observes a half-applied state. Each subscriber has its own goroutine and
// bounded queue; when the queue is full the oldest pending state is dropped so
// a slow subscriber can never stall a writer.
type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[RaceState]
	updates atomic.Uint64

	histMu     sync.RWMutex
	history    []*RaceState
	maxHistory int

	subMu   sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	bufSize int
	onDrop  func()
}

// NewStore creates a Store holding initial.
func NewStore(initial RaceState, opts ...Option) *Store {
	s := &Store{
		maxHistory: DefaultHistory,
		subs:       make(map[uint64]*subscription),
		bufSize:    defaultSubBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if initial.Drivers == nil {
		initial.Drivers = make(map[int]DriverState)
	}
	s.current.Store(&initial)
	return s
}

// Get returns the latest published state. Callers must not modify it.
func (s *Store) Get() *RaceState {
	return s.current.Load()
}

// Apply folds b into the current state, publishes the result and queues it
// for every subscriber.
func (s *Store) Apply(b telemetry.UpdateBatch) *RaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := ApplyUpdateBatch(*s.current.Load(), b)
	return s.publishLocked(&next)
}

// Modify publishes fn(current). fn receives a copy of the current state and
// must derive its result through the With helpers rather than writing into
// the shared drivers map or slices.
func (s *Store) Modify(fn func(RaceState) RaceState) *RaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(*s.current.Load())
	if next.Drivers == nil {
		next.Drivers = make(map[int]DriverState)
	}
	return s.publishLocked(&next)
}

// Reset replaces the state, clears history and the update counter, and
// notifies subscribers.
func (s *Store) Reset(rs RaceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.Drivers == nil {
		rs.Drivers = make(map[int]DriverState)
	}
	s.histMu.Lock()
	s.history = nil
	s.histMu.Unlock()
	s.updates.Store(0)
	s.current.Store(&rs)
	s.notifyLocked(&rs)
}

// UpdateCount returns the number of states published since creation or the
// last Reset.
func (s *Store) UpdateCount() uint64 {
	return s.updates.Load()
}

// History returns the retained states, oldest first.
func (s *Store) History() []*RaceState {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	out := make([]*RaceState, len(s.history))
	copy(out, s.history)
	return out
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	sub := &subscription{
		id:   s.nextID,
		fn:   fn,
		ch:   make(chan *RaceState, s.bufSize),
		done: make(chan struct{}),
	}
	s.subs[sub.id] = sub
	s.subMu.Unlock()

	go sub.run()

	return func() {
		s.subMu.Lock()
		delete(s.subs, sub.id)
		s.subMu.Unlock()
		sub.stop()
	}
}

// Subscribers returns the number of registered subscribers.
func (s *Store) Subscribers() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

// Close removes every subscriber and stops their goroutines.
func (s *Store) Close() {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

// --- internal ---------------------------------------------------------------

func (s *Store) publishLocked(next *RaceState) *RaceState {
	s.current.Store(next)
	s.updates.Add(1)

	if s.maxHistory > 0 {
		s.histMu.Lock()
		s.history = append(s.history, next)
		if len(s.history) > s.maxHistory {
			s.history = s.history[len(s.history)-s.maxHistory:]
		}
		s.histMu.Unlock()
	}

	s.notifyLocked(next)
	return next
}

// notifyLocked hands next to every subscriber queue. It runs under the writer
// lock so each subscriber sees states in publish order, and it never blocks.
func (s *Store) notifyLocked(next *RaceState) {
	s.subMu.RLock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range targets {
		if dropped := sub.offer(next); dropped && s.onDrop != nil {
			s.onDrop()
		}
	}
}

type subscription struct {
	id   uint64
	fn   Subscriber
	ch   chan *RaceState
	done chan struct{}
	once sync.Once
}

// offer enqueues rs, evicting the oldest queued state when the queue is full.
// It reports whether a state was dropped.
func (sub *subscription) offer(rs *RaceState) bool {
	select {
	case sub.ch <- rs:
		return false
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- rs:
	default:
		slog.Warn("state: subscriber queue full, dropping state", "id", sub.id)
	}
	return true
}

func (sub *subscription) run() {
	for {
		select {
		case <-sub.done:
			return
		case rs := <-sub.ch:
			sub.deliver(rs)
		}
	}
}

func (sub *subscription) deliver(rs *RaceState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("state: subscriber panicked", "id", sub.id, "panic", r)
		}
	}()
	if err := sub.fn(rs); err != nil {
		slog.Warn("state: subscriber failed", "id", sub.id, "err", err)
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}
