package player

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lessongate/lessongate/internal/provider"
	"github.com/lessongate/lessongate/internal/schedule"
	"github.com/tidwall/gjson"
)

// MessagePort is an origin-scoped window messaging channel into an iframe.
type MessagePort interface {
	Post(message []byte) error
	Listen(fn func(origin string, data []byte)) (stop func())
}

var subscribedEvents = []string{"play", "pause", "ended", "finish", "playProgress", "timeupdate"}

// Providers disagree on field names, and none of them promise a stable schema,
// so each value is probed along several paths.
var (
	eventPaths    = []string{"event", "method", "type", "name"}
	durationPaths = []string{"data.duration", "duration", "info.duration", "value.duration"}
	positionPaths = []string{"data.seconds", "data.currentTime", "seconds", "currentTime", "info.currentTime", "position"}
	percentPaths  = []string{"data.percent", "percent"}
)

var (
	playEvents  = map[string]bool{"play": true, "playing": true}
	pauseEvents = map[string]bool{"pause": true, "paused": true, "ended": true, "finish": true}
)

type messagingAdapter struct {
	tracker

	port       MessagePort
	origins    []string
	src        Source
	resumeMs   int64
	resumed    bool
	duration   float64
	positionMs int64
}

func newMessaging(sched *schedule.Scheduler, listener Listener, opts Options) *messagingAdapter {
	return &messagingAdapter{tracker: newTracker(sched, listener, opts)}
}

func (a *messagingAdapter) Kind() Kind { return KindMessaging }

func (a *messagingAdapter) Start(m Mount, src Source, resumePositionMs int64) error {
	if m.Messages == nil {
		return ErrMissingChannel
	}
	if err := a.begin(); err != nil {
		return err
	}

	a.mu.Lock()
	a.port = m.Messages
	a.origins = provider.Origins(src.Provider)
	a.src = src
	a.resumeMs = resumePositionMs
	if validDuration(src.DurationSeconds) {
		a.duration = src.DurationSeconds
	}
	a.mu.Unlock()

	a.onDispose(m.Messages.Listen(a.handleMessage))

	for _, ev := range subscribedEvents {
		a.post(fmt.Sprintf(`{"method":"addEventListener","value":%q}`, ev))
	}
	a.post(`{"method":"getDuration"}`)
	a.post(`{"method":"getCurrentTime"}`)
	a.maybeResume()
	return nil
}

func (a *messagingAdapter) Dispose() { a.dispose() }

func (a *messagingAdapter) post(msg string) {
	if !a.mounted() {
		return
	}
	a.mu.Lock()
	port := a.port
	a.mu.Unlock()
	if err := port.Post([]byte(msg)); err != nil {
		slog.Debug("player: post to iframe failed", "error", err)
	}
}

// handleMessage never fails: anything it cannot recognise is dropped.
func (a *messagingAdapter) handleMessage(origin string, data []byte) {
	if !a.mounted() {
		return
	}
	a.mu.Lock()
	allowed := a.origins
	a.mu.Unlock()
	if len(allowed) > 0 && !slices.Contains(allowed, strings.TrimSuffix(origin, "/")) {
		return
	}

	msg, ok := decodeMessage(data)
	if !ok {
		return
	}
	event := strings.TrimSpace(firstString(msg, eventPaths))

	duration, hasDuration := firstNumber(msg, durationPaths)
	position, hasPosition := firstNumber(msg, positionPaths)
	switch event {
	case "getDuration":
		if v := msg.Get("value"); v.Type == gjson.Number {
			duration, hasDuration = v.Float(), true
		}
	case "getCurrentTime":
		if v := msg.Get("value"); v.Type == gjson.Number {
			position, hasPosition = v.Float(), true
		}
	}

	a.mu.Lock()
	if hasDuration && validDuration(duration) {
		a.duration = duration
	}
	if !hasPosition {
		if pct, ok := firstNumber(msg, percentPaths); ok && pct >= 0 && pct <= 1 && validDuration(a.duration) {
			position, hasPosition = pct*a.duration, true
		}
	}
	if hasPosition && position >= 0 {
		a.positionMs = secondsToMs(position)
	}
	a.mu.Unlock()

	a.maybeResume()

	switch {
	case playEvents[event]:
		a.setPlaying(true, a.poll)
	case pauseEvents[event]:
		a.setPlaying(false, nil)
	default:
		if state := msg.Get("info.playerState"); state.Type == gjson.Number {
			switch RemoteState(state.Int()) {
			case RemotePlaying:
				a.setPlaying(true, a.poll)
			case RemotePaused, RemoteEnded:
				a.setPlaying(false, nil)
			}
		}
	}
}

func (a *messagingAdapter) maybeResume() {
	a.mu.Lock()
	if a.resumed || !validDuration(a.duration) {
		a.mu.Unlock()
		return
	}
	a.resumed = true
	pos := ResumePosition(a.resumeMs, a.duration, a.opts.ResumeGuard)
	a.mu.Unlock()

	if pos > 0 {
		a.post(fmt.Sprintf(`{"method":"setCurrentTime","value":%.3f}`, float64(pos)/1000))
	}
}

func (a *messagingAdapter) poll(time.Time) {
	a.post(`{"method":"getCurrentTime"}`)
	if s, ok := a.Snapshot(); ok {
		a.emitProgress(s)
	}
}

func (a *messagingAdapter) Snapshot() (Sample, bool) {
	if !a.mounted() {
		return Sample{}, false
	}
	a.mu.Lock()
	duration, pos := a.duration, a.positionMs
	a.mu.Unlock()
	if !validDuration(duration) {
		return Sample{}, false
	}
	return Sample{Percent: percentOf(pos, duration), PositionMs: pos, Signal: SignalObserved}, true
}

// decodeMessage accepts a JSON object, or a JSON string that itself holds one.
func decodeMessage(data []byte) (gjson.Result, bool) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, false
	}
	msg := gjson.ParseBytes(data)
	if msg.Type == gjson.String {
		if !gjson.Valid(msg.Str) {
			return gjson.Result{}, false
		}
		msg = gjson.Parse(msg.Str)
	}
	if !msg.IsObject() {
		return gjson.Result{}, false
	}
	return msg, true
}

func firstString(msg gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := msg.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func firstNumber(msg gjson.Result, paths []string) (float64, bool) {
	for _, p := range paths {
		v := msg.Get(p)
		switch v.Type {
		case gjson.Number:
			return v.Float(), true
		case gjson.String:
			if n := gjson.Parse(v.Str); n.Type == gjson.Number {
				return n.Float(), true
			}
		}
	}
	return 0, false
}
