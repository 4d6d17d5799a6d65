package player

import (
	"math"
	"time"

	"github.com/lessongate/lessongate/internal/schedule"
)

// estimateAdapter has no signal at all. It extrapolates linearly from the last
// known percent once per sample interval, over the known duration or the
// assumed one, and stops at 100. Samples are marked SignalEstimated.
type estimateAdapter struct {
	tracker

	duration float64
	percent  float64
}

func newEstimate(sched *schedule.Scheduler, listener Listener, opts Options) *estimateAdapter {
	return &estimateAdapter{tracker: newTracker(sched, listener, opts)}
}

func (a *estimateAdapter) Kind() Kind { return KindEstimate }

func (a *estimateAdapter) Start(_ Mount, src Source, resumePositionMs int64) error {
	if err := a.begin(); err != nil {
		return err
	}

	a.mu.Lock()
	a.duration = src.DurationSeconds
	if !validDuration(a.duration) {
		a.duration = a.opts.AssumedDuration.Seconds()
	}
	a.percent = percentOf(ResumePosition(resumePositionMs, a.duration, a.opts.ResumeGuard), a.duration)
	if known := src.KnownPercent; known > a.percent && !math.IsNaN(known) {
		a.percent = math.Min(known, 100)
	}
	done := a.percent >= 100
	a.mu.Unlock()

	if !done {
		a.setPlaying(true, a.tick)
	}
	return nil
}

func (a *estimateAdapter) Dispose() { a.dispose() }

func (a *estimateAdapter) tick(time.Time) {
	a.mu.Lock()
	step := a.opts.SampleInterval.Seconds() / a.duration * 100
	a.percent = math.Min(100, a.percent+step)
	done := a.percent >= 100
	a.mu.Unlock()

	if s, ok := a.Snapshot(); ok {
		a.emitProgress(s)
	}
	if done {
		a.setPlaying(false, nil)
	}
}

func (a *estimateAdapter) Snapshot() (Sample, bool) {
	if !a.mounted() {
		return Sample{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := int64(math.Round(a.percent / 100 * a.duration * 1000))
	return Sample{Percent: a.percent, PositionMs: pos, Signal: SignalEstimated}, true
}
