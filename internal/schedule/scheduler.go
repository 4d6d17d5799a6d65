// Package schedule provides the single cooperative scheduler that every active
// player adapter subscribes to instead of owning its own timer.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultResolution is how often Run checks for due subscriptions.
const DefaultResolution = 250 * time.Millisecond

// Scheduler runs periodic and one-shot callbacks from one driving loop.
// Callbacks run sequentially on the goroutine calling Tick and never hold the
// scheduler lock, so they may subscribe or cancel freely.
type Scheduler struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	nextID uint64
	subs   map[uint64]*subscription
}

type subscription struct {
	id       uint64
	interval time.Duration
	due      time.Time
	fn       func(now time.Time)
}

// New creates a Scheduler reading time from clock. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock: clock,
		subs:  make(map[uint64]*subscription),
	}
}

// Clock returns the clock the scheduler runs on.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Every calls fn once per interval, first one interval from now. The returned
// cancel func is idempotent and takes effect before the next Tick.
func (s *Scheduler) Every(interval time.Duration, fn func(now time.Time)) (cancel func()) {
	if interval <= 0 {
		panic("schedule: interval must be positive")
	}
	return s.add(interval, interval, fn)
}

// After calls fn once after delay.
func (s *Scheduler) After(delay time.Duration, fn func(now time.Time)) (cancel func()) {
	return s.add(delay, 0, fn)
}

func (s *Scheduler) add(delay, interval time.Duration, fn func(now time.Time)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = &subscription{
		id:       id,
		interval: interval,
		due:      s.clock.Now().Add(delay),
		fn:       fn,
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Tick runs every subscription that is due. A periodic subscription that fell
// several intervals behind runs once and is rescheduled from now.
func (s *Scheduler) Tick() {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if !sub.due.After(now) {
			due = append(due, sub)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})

	for _, sub := range due {
		s.mu.Lock()
		if _, live := s.subs[sub.id]; !live {
			s.mu.Unlock()
			continue
		}
		if sub.interval > 0 {
			sub.due = sub.due.Add(sub.interval)
			if !sub.due.After(now) {
				sub.due = now.Add(sub.interval)
			}
		} else {
			delete(s.subs, sub.id)
		}
		s.mu.Unlock()

		sub.fn(now)
	}
}

// Len reports the number of live subscriptions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Run drives Tick at the given resolution until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, resolution time.Duration) {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	ticker := s.clock.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Tick()
		}
	}
}
