package player

import (
	"math"
	"sync"
	"time"

	"github.com/lessongate/lessongate/internal/schedule"
)

// tracker holds the lifecycle every adapter shares: mount state, the scheduler
// subscription that samples while playing, and the cleanups Dispose runs.
type tracker struct {
	mu       sync.Mutex
	sched    *schedule.Scheduler
	opts     Options
	listener Listener

	started  bool
	disposed bool
	playing  bool
	stopPoll func()
	cleanups []func()
}

func newTracker(sched *schedule.Scheduler, listener Listener, opts Options) tracker {
	return tracker{sched: sched, listener: listener, opts: opts.withDefaults()}
}

func (t *tracker) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	return nil
}

func (t *tracker) mounted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.disposed
}

func (t *tracker) isPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *tracker) now() time.Time {
	return t.sched.Clock().Now()
}

// onDispose registers fn to run on Dispose. Cleanups run in reverse order of
// registration. If the adapter is already disposed fn runs immediately.
func (t *tracker) onDispose(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		fn()
		return
	}
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

func (t *tracker) dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.playing = false
	stop := t.stopPoll
	t.stopPoll = nil
	cleanups := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// setPlaying records a play-state transition. While playing, poll runs once per
// sample interval on the shared scheduler.
func (t *tracker) setPlaying(playing bool, poll func(now time.Time)) {
	t.mu.Lock()
	if !t.started || t.disposed || t.playing == playing {
		t.mu.Unlock()
		return
	}
	t.playing = playing
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
	if playing && poll != nil {
		t.stopPoll = t.sched.Every(t.opts.SampleInterval, func(now time.Time) {
			if t.mounted() {
				poll(now)
			}
		})
	}
	t.mu.Unlock()

	if fn := t.listener.OnPlayStateChange; fn != nil {
		fn(playing)
	}
}

func (t *tracker) emitProgress(s Sample) {
	if math.IsNaN(s.Percent) || !t.mounted() {
		return
	}
	s.Percent = math.Max(0, math.Min(100, s.Percent))
	if fn := t.listener.OnProgress; fn != nil {
		fn(s)
	}
}

func (t *tracker) emitError(err error) {
	if !t.mounted() {
		return
	}
	if fn := t.listener.OnError; fn != nil {
		fn(err)
	}
}
