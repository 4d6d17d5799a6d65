// Package player drives the lesson video through whichever control channel the
// provider offers and turns what it observes into progress samples.
//
// Every adapter follows the same contract: nothing is emitted unless the adapter
// is mounted, resume seeks skip the trailing guard window, Dispose is idempotent
// and detaches everything synchronously, and progress is only sampled on the
// shared scheduler's interval while playing.
package player

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lessongate/lessongate/internal/provider"
)

// Kind is the closed set of adapter families.
type Kind int

const (
	KindNative Kind = iota + 1
	KindRPC
	KindMessaging
	KindFocus
	KindEstimate
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindRPC:
		return "iframe-rpc"
	case KindMessaging:
		return "iframe-messaging"
	case KindFocus:
		return "heuristic-focus"
	case KindEstimate:
		return "degenerate-estimate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signal records where a sample's numbers came from.
type Signal int

const (
	SignalObserved Signal = iota
	SignalHeuristic
	SignalEstimated
)

func (s Signal) String() string {
	switch s {
	case SignalHeuristic:
		return "heuristic"
	case SignalEstimated:
		return "estimated"
	default:
		return "observed"
	}
}

// Sample is one progress reading.
type Sample struct {
	Percent    float64
	PositionMs int64
	Signal     Signal
}

// Source is the video a lesson plays. DurationSeconds is zero when unknown.
type Source struct {
	URL             string
	Provider        provider.Provider
	DurationSeconds float64
	Segmented       bool
	// KnownPercent is the watched percent already reconciled for the learner.
	// Adapters without a position signal extrapolate from it.
	KnownPercent    float64
}

// Listener receives adapter output. Any field may be nil.
type Listener struct {
	OnProgress        func(Sample)
	OnPlayStateChange func(playing bool)
	OnError           func(err error)
}

// Mount is the view an adapter attaches to. Each adapter uses only the
// channels it needs and refuses to start without them.
type Mount struct {
	ElementID       string
	Surface         MediaSurface
	Engine          EngineFactory
	NativeSegmented bool
	Messages        MessagePort
	Focus           FocusTarget
}

// Snapshotter reports the best currently available time/duration pair.
type Snapshotter interface {
	Snapshot() (Sample, bool)
}

// Adapter is the uniform playback-progress strategy.
type Adapter interface {
	Snapshotter
	Kind() Kind
	Start(m Mount, src Source, resumePositionMs int64) error
	Dispose()
}

var (
	ErrMissingChannel       = errors.New("player: mount lacks the control channel for this adapter")
	ErrAlreadyStarted       = errors.New("player: adapter already started")
	ErrDisposed             = errors.New("player: adapter disposed")
	ErrPlaybackFailed       = errors.New("player: playback failed")
	ErrSegmentedUnsupported = errors.New("player: segmented stream needs a streaming engine")
)

// Options tunes adapter timing. Zero fields take the defaults.
type Options struct {
	SampleInterval  time.Duration
	ResumeGuard     time.Duration
	FocusDwell      time.Duration
	AssumedDuration time.Duration
}

const (
	DefaultSampleInterval  = 5 * time.Second
	DefaultResumeGuard     = 5 * time.Second
	DefaultFocusDwell      = 3 * time.Second
	DefaultAssumedDuration = 5 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.ResumeGuard <= 0 {
		o.ResumeGuard = DefaultResumeGuard
	}
	if o.FocusDwell <= 0 {
		o.FocusDwell = DefaultFocusDwell
	}
	if o.AssumedDuration <= 0 {
		o.AssumedDuration = DefaultAssumedDuration
	}
	return o
}

// ResumePosition returns where playback should start. A resume point inside the
// trailing guard window of a known duration restarts from zero so loading the
// lesson does not immediately re-trigger the end of the video.
func ResumePosition(resumeMs int64, durationSeconds float64, guard time.Duration) int64 {
	if resumeMs <= 0 {
		return 0
	}
	if validDuration(durationSeconds) {
		durationMs := int64(durationSeconds * 1000)
		if resumeMs >= durationMs-guard.Milliseconds() {
			return 0
		}
	}
	return resumeMs
}

func percentOf(positionMs int64, durationSeconds float64) float64 {
	if !validDuration(durationSeconds) || positionMs <= 0 {
		return 0
	}
	pct := float64(positionMs) / (durationSeconds * 10)
	return math.Min(pct, 100)
}

func validDuration(seconds float64) bool {
	return seconds > 0 && !math.IsInf(seconds, 0) && !math.IsNaN(seconds)
}

func secondsToMs(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}
