// Package progress keeps the learner's watched percent for one lesson. The
// value is a ratchet: samples that would lower it are ignored.
package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/player"
)

// DefaultPersistTimeout bounds each write-through call.
const DefaultPersistTimeout = 30 * time.Second

// State is the reconciled progress for one (lesson, learner) pair.
type State struct {
	WatchedPercent float64
	LastPositionMs int64
	UpdatedAt      time.Time
}

// PersistFunc writes accepted progress through to the backend.
type PersistFunc func(ctx context.Context, percent float64, positionMs int64) error

type Option func(*Reconciler)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// WithTrustInferred controls whether heuristic and estimated samples may move
// the ratchet. They are accepted unless this is set to false.
func WithTrustInferred(trust bool) Option {
	return func(r *Reconciler) { r.trustInferred = trust }
}

// WithOnAccept registers fn to run after every accepted sample. Calls are
// serialized and each receives the state current at delivery, so the last
// call always carries the highest accepted percent.
func WithOnAccept(fn func(State)) Option {
	return func(r *Reconciler) { r.onAccept = fn }
}

func WithPersistTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithInitial seeds the ratchet, usually with the percent already stored by
// the backend.
func WithInitial(s State) Option {
	return func(r *Reconciler) {
		if !math.IsNaN(s.WatchedPercent) {
			s.WatchedPercent = clamp(s.WatchedPercent)
			r.state = s
		}
	}
}

// Reconciler is the single writer of a lesson's State.
type Reconciler struct {
	mu            sync.Mutex
	state         State
	persist       PersistFunc
	clock         clockwork.Clock
	trustInferred bool
	onAccept      func(State)
	deliverMu     sync.Mutex
	timeout       time.Duration
	inflight      sync.WaitGroup
}

func New(persist PersistFunc, opts ...Option) *Reconciler {
	r := &Reconciler{
		persist:       persist,
		clock:         clockwork.NewRealClock(),
		trustInferred: true,
		timeout:       DefaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit accepts s only when its percent strictly exceeds the stored one.
// Persistence runs in the background and its failure never rolls back the
// accepted value.
func (r *Reconciler) Submit(s player.Sample) bool {
	if math.IsNaN(s.Percent) {
		return false
	}
	if s.Signal != player.SignalObserved && !r.trustInferred {
		slog.Debug("progress: dropped inferred sample", "signal", s.Signal.String(), "percent", s.Percent)
		return false
	}
	pct := clamp(s.Percent)

	r.mu.Lock()
	if pct <= r.state.WatchedPercent {
		r.mu.Unlock()
		return false
	}
	r.state = State{
		WatchedPercent: pct,
		LastPositionMs: max(s.PositionMs, 0),
		UpdatedAt:      r.clock.Now(),
	}
	accepted := r.state
	r.mu.Unlock()

	r.writeThrough(accepted)
	r.deliver()
	return true
}

// deliver reads the state under deliverMu so a slow callback for an older
// sample cannot land after the one for a newer sample.
func (r *Reconciler) deliver() {
	if r.onAccept == nil {
		return
	}
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.onAccept(r.State())
}

// Finalize forces one reconciliation from the adapter's best available
// reading, typically on pause or stop.
func (r *Reconciler) Finalize(a player.Snapshotter) bool {
	if a == nil {
		return false
	}
	s, ok := a.Snapshot()
	if !ok {
		return false
	}
	return r.Submit(s)
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) WatchedPercent() float64 {
	return r.State().WatchedPercent
}

// Wait blocks until every pending write-through has returned.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}

func (r *Reconciler) writeThrough(s State) {
	if r.persist == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.persist(ctx, s.WatchedPercent, s.LastPositionMs); err != nil {
			slog.Error("progress: persist failed", "percent", s.WatchedPercent, "position_ms", s.LastPositionMs, "error", err)
		}
	}()
}

func clamp(pct float64) float64 {
	return math.Max(0, math.Min(100, pct))
}
