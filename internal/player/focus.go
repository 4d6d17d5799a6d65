package player

import (
	"time"

	"github.com/lessongate/lessongate/internal/schedule"
)

// FocusTarget reports when the embed's iframe holds exclusive input focus.
type FocusTarget interface {
	Watch(fn func(focused bool)) (stop func())
}

// focusAdapter approximates play/pause for embeds with no control channel.
// Holding focus on the iframe for the dwell period counts as pressing play and
// losing focus counts as pause; once play has been inferred, regaining focus
// resumes immediately. Position advances by wall clock while "playing", so the
// numbers are a guess and every sample is marked SignalHeuristic.
type focusAdapter struct {
	tracker

	src         Source
	focused     bool
	armed       bool
	cancelDwell func()
	positionMs  int64
	lastAdvance time.Time
}

func newFocus(sched *schedule.Scheduler, listener Listener, opts Options) *focusAdapter {
	return &focusAdapter{tracker: newTracker(sched, listener, opts)}
}

func (a *focusAdapter) Kind() Kind { return KindFocus }

func (a *focusAdapter) Start(m Mount, src Source, resumePositionMs int64) error {
	if m.Focus == nil {
		return ErrMissingChannel
	}
	if err := a.begin(); err != nil {
		return err
	}

	a.mu.Lock()
	a.src = src
	a.positionMs = ResumePosition(resumePositionMs, a.durationLocked(), a.opts.ResumeGuard)
	a.mu.Unlock()

	a.onDispose(a.stopDwell)
	a.onDispose(m.Focus.Watch(a.handleFocus))
	return nil
}

func (a *focusAdapter) Dispose() { a.dispose() }

func (a *focusAdapter) durationLocked() float64 {
	if validDuration(a.src.DurationSeconds) {
		return a.src.DurationSeconds
	}
	return a.opts.AssumedDuration.Seconds()
}

func (a *focusAdapter) handleFocus(focused bool) {
	if !a.mounted() {
		return
	}
	if !focused {
		a.mu.Lock()
		a.focused = false
		a.mu.Unlock()
		a.stopDwell()
		a.pause()
		return
	}

	a.mu.Lock()
	if a.focused {
		a.mu.Unlock()
		return
	}
	a.focused = true
	armed := a.armed
	a.mu.Unlock()

	if armed {
		a.play()
		return
	}

	cancel := a.sched.After(a.opts.FocusDwell, func(time.Time) {
		a.mu.Lock()
		still := a.focused
		if still {
			a.armed = true
		}
		a.cancelDwell = nil
		a.mu.Unlock()
		if still {
			a.play()
		}
	})
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		cancel()
		return
	}
	a.cancelDwell = cancel
	a.mu.Unlock()
}

func (a *focusAdapter) stopDwell() {
	a.mu.Lock()
	cancel := a.cancelDwell
	a.cancelDwell = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *focusAdapter) play() {
	if !a.mounted() || a.isPlaying() {
		return
	}
	a.mu.Lock()
	a.lastAdvance = a.now()
	a.mu.Unlock()
	a.setPlaying(true, a.poll)
}

func (a *focusAdapter) pause() {
	if !a.isPlaying() {
		return
	}
	a.advance(a.now())
	a.setPlaying(false, nil)
}

func (a *focusAdapter) advance(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionMs = a.projectedLocked(now)
	a.lastAdvance = now
}

func (a *focusAdapter) projectedLocked(now time.Time) int64 {
	pos := a.positionMs
	if a.playing && now.After(a.lastAdvance) {
		pos += now.Sub(a.lastAdvance).Milliseconds()
	}
	if limit := secondsToMs(a.durationLocked()); pos > limit {
		pos = limit
	}
	return pos
}

func (a *focusAdapter) poll(now time.Time) {
	a.advance(now)
	if s, ok := a.Snapshot(); ok {
		a.emitProgress(s)
	}
}

func (a *focusAdapter) Snapshot() (Sample, bool) {
	if !a.mounted() {
		return Sample{}, false
	}
	now := a.now()
	a.mu.Lock()
	pos := a.projectedLocked(now)
	duration := a.durationLocked()
	a.mu.Unlock()
	return Sample{Percent: percentOf(pos, duration), PositionMs: pos, Signal: SignalHeuristic}, true
}
