package player

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lessongate/lessongate/internal/schedule"
)

// MediaSurface is the single media element a native adapter owns.
type MediaSurface interface {
	SetSource(url string) error
	Seek(positionMs int64)
	PositionMs() int64
	DurationSeconds() float64
	Watch(events MediaEvents) (unwatch func())
	Detach()
}

// MediaEvents are the media element events the adapter listens to.
type MediaEvents struct {
	OnMetadata func()
	OnPlay     func()
	OnPause    func()
	OnEnded    func()
}

// FaultKind classifies streaming engine faults.
type FaultKind int

const (
	FaultNetwork FaultKind = iota + 1
	FaultMedia
	FaultOther
)

func (k FaultKind) String() string {
	switch k {
	case FaultNetwork:
		return "network"
	case FaultMedia:
		return "media"
	default:
		return "other"
	}
}

// Fault is an error reported by the streaming engine.
type Fault struct {
	Kind   FaultKind
	Fatal  bool
	Detail string
}

// StreamingEngine plays segmented manifests where the environment cannot.
type StreamingEngine interface {
	Load(url string) error
	StartLoad()
	RecoverMediaError()
	OnFault(fn func(Fault)) (unsubscribe func())
	Destroy()
}

// EngineFactory attaches a new streaming engine to a surface.
type EngineFactory func(surface MediaSurface) (StreamingEngine, error)

type nativeAdapter struct {
	tracker

	surface        MediaSurface
	engine         StreamingEngine
	src            Source
	resumeMs       int64
	resumed        bool
	networkRetried bool
	mediaRecovered bool
}

func newNative(sched *schedule.Scheduler, listener Listener, opts Options) *nativeAdapter {
	return &nativeAdapter{tracker: newTracker(sched, listener, opts)}
}

func (a *nativeAdapter) Kind() Kind { return KindNative }

func (a *nativeAdapter) Start(m Mount, src Source, resumePositionMs int64) error {
	if m.Surface == nil {
		return ErrMissingChannel
	}
	useEngine := src.Segmented && !m.NativeSegmented
	if useEngine && m.Engine == nil {
		return ErrSegmentedUnsupported
	}
	if err := a.begin(); err != nil {
		return err
	}

	a.mu.Lock()
	a.surface = m.Surface
	a.src = src
	a.resumeMs = resumePositionMs
	a.mu.Unlock()

	a.onDispose(m.Surface.Detach)
	a.onDispose(m.Surface.Watch(MediaEvents{
		OnMetadata: a.handleMetadata,
		OnPlay:     func() { a.setPlaying(true, a.poll) },
		OnPause:    func() { a.setPlaying(false, nil) },
		OnEnded:    func() { a.setPlaying(false, nil) },
	}))

	if !useEngine {
		if err := m.Surface.SetSource(src.URL); err != nil {
			return fmt.Errorf("player: set source: %w", err)
		}
		return nil
	}

	engine, err := m.Engine(m.Surface)
	if err != nil {
		return fmt.Errorf("player: create streaming engine: %w", err)
	}
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
	a.onDispose(a.teardownEngine)
	a.onDispose(engine.OnFault(a.handleFault))

	if err := engine.Load(src.URL); err != nil {
		return fmt.Errorf("player: load manifest: %w", err)
	}
	return nil
}

func (a *nativeAdapter) Dispose() { a.dispose() }

func (a *nativeAdapter) Snapshot() (Sample, bool) {
	if !a.mounted() {
		return Sample{}, false
	}
	a.mu.Lock()
	surface := a.surface
	a.mu.Unlock()

	duration := a.duration()
	if !validDuration(duration) {
		return Sample{}, false
	}
	pos := surface.PositionMs()
	return Sample{Percent: percentOf(pos, duration), PositionMs: pos, Signal: SignalObserved}, true
}

func (a *nativeAdapter) duration() float64 {
	a.mu.Lock()
	surface, fallback := a.surface, a.src.DurationSeconds
	a.mu.Unlock()
	if surface != nil {
		if d := surface.DurationSeconds(); validDuration(d) {
			return d
		}
	}
	return fallback
}

func (a *nativeAdapter) handleMetadata() {
	if !a.mounted() {
		return
	}
	a.mu.Lock()
	if a.resumed {
		a.mu.Unlock()
		return
	}
	a.resumed = true
	surface, resume := a.surface, a.resumeMs
	a.mu.Unlock()

	if pos := ResumePosition(resume, a.duration(), a.opts.ResumeGuard); pos > 0 {
		surface.Seek(pos)
	}
}

func (a *nativeAdapter) poll(time.Time) {
	if s, ok := a.Snapshot(); ok {
		a.emitProgress(s)
	}
}

// handleFault recovers each fault class at most once: a network fault reloads,
// a decode fault runs the engine's media recovery. Anything else, or a repeat,
// tears the engine down and surfaces the failure.
func (a *nativeAdapter) handleFault(f Fault) {
	if !f.Fatal || !a.mounted() {
		return
	}

	a.mu.Lock()
	engine := a.engine
	recovered := false
	switch f.Kind {
	case FaultNetwork:
		if !a.networkRetried {
			a.networkRetried = true
			recovered = true
		}
	case FaultMedia:
		if !a.mediaRecovered {
			a.mediaRecovered = true
			recovered = true
		}
	}
	a.mu.Unlock()

	if engine == nil {
		return
	}
	if recovered {
		slog.Warn("player: recovering from streaming fault", "fault", f.Kind.String(), "detail", f.Detail)
		if f.Kind == FaultNetwork {
			engine.StartLoad()
		} else {
			engine.RecoverMediaError()
		}
		return
	}

	slog.Error("player: unrecoverable streaming fault", "fault", f.Kind.String(), "detail", f.Detail)
	a.teardownEngine()
	a.setPlaying(false, nil)
	a.emitError(fmt.Errorf("%w: %s fault: %s", ErrPlaybackFailed, f.Kind, f.Detail))
}

func (a *nativeAdapter) teardownEngine() {
	a.mu.Lock()
	engine := a.engine
	a.engine = nil
	a.mu.Unlock()
	if engine != nil {
		engine.Destroy()
	}
}
