package player

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lessongate/lessongate/internal/provider"
	"github.com/lessongate/lessongate/internal/schedule"
)

type rpcAdapter struct {
	tracker

	hosts    map[provider.Provider]*SDKHost
	release  func()
	player   RemotePlayer
	src      Source
	resumeMs int64
	duration float64
}

func newRPC(sched *schedule.Scheduler, listener Listener, opts Options, hosts map[provider.Provider]*SDKHost) *rpcAdapter {
	return &rpcAdapter{tracker: newTracker(sched, listener, opts), hosts: hosts}
}

func (a *rpcAdapter) Kind() Kind { return KindRPC }

func (a *rpcAdapter) Start(m Mount, src Source, resumePositionMs int64) error {
	host := a.hosts[src.Provider]
	if host == nil || m.ElementID == "" {
		return ErrMissingChannel
	}
	if err := a.begin(); err != nil {
		return err
	}

	a.mu.Lock()
	a.src = src
	a.resumeMs = resumePositionMs
	a.mu.Unlock()

	// Registered first so the SDK is released after the player is destroyed.
	a.onDispose(a.releaseSDK)
	release, err := host.Acquire(func() { a.createPlayer(host, m.ElementID) })
	if err != nil {
		return fmt.Errorf("player: load %s sdk: %w", src.Provider, err)
	}
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		release()
		return ErrDisposed
	}
	a.release = release
	a.mu.Unlock()
	return nil
}

func (a *rpcAdapter) releaseSDK() {
	a.mu.Lock()
	release := a.release
	a.release = nil
	a.mu.Unlock()
	if release != nil {
		release()
	}
}

func (a *rpcAdapter) Dispose() { a.dispose() }

func (a *rpcAdapter) createPlayer(host *SDKHost, elementID string) {
	if !a.mounted() {
		return
	}
	p, err := host.newPlayer(elementID, RemoteEvents{
		OnReady:       a.handleReady,
		OnStateChange: a.handleState,
	})
	if err != nil {
		a.emitError(fmt.Errorf("%w: create remote player: %v", ErrPlaybackFailed, err))
		return
	}

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		p.Destroy()
		return
	}
	a.player = p
	a.mu.Unlock()
	a.onDispose(a.destroyPlayer)
}

func (a *rpcAdapter) destroyPlayer() {
	a.mu.Lock()
	p := a.player
	a.player = nil
	a.mu.Unlock()
	if p != nil {
		p.Destroy()
	}
}

func (a *rpcAdapter) remote() RemotePlayer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.player
}

func (a *rpcAdapter) handleReady() {
	p := a.remote()
	if p == nil || !a.mounted() {
		return
	}

	duration, err := p.DurationSeconds()
	a.mu.Lock()
	if err == nil && validDuration(duration) {
		a.duration = duration
	} else {
		a.duration = a.src.DurationSeconds
	}
	known, resume := a.duration, a.resumeMs
	a.mu.Unlock()

	if pos := ResumePosition(resume, known, a.opts.ResumeGuard); pos > 0 {
		if err := p.SeekTo(float64(pos) / 1000); err != nil {
			slog.Debug("player: remote resume seek failed", "error", err)
		}
	}
}

func (a *rpcAdapter) handleState(state RemoteState) {
	switch state {
	case RemotePlaying:
		a.setPlaying(true, a.poll)
	case RemotePaused, RemoteEnded:
		a.setPlaying(false, nil)
	}
}

func (a *rpcAdapter) poll(time.Time) {
	if s, ok := a.Snapshot(); ok {
		a.emitProgress(s)
	}
}

func (a *rpcAdapter) Snapshot() (Sample, bool) {
	p := a.remote()
	if p == nil || !a.mounted() {
		return Sample{}, false
	}

	current, err := p.CurrentTimeSeconds()
	if err != nil {
		return Sample{}, false
	}

	a.mu.Lock()
	duration := a.duration
	a.mu.Unlock()
	if !validDuration(duration) {
		d, err := p.DurationSeconds()
		if err != nil || !validDuration(d) {
			return Sample{}, false
		}
		duration = d
		a.mu.Lock()
		a.duration = d
		a.mu.Unlock()
	}

	pos := secondsToMs(current)
	return Sample{Percent: percentOf(pos, duration), PositionMs: pos, Signal: SignalObserved}, true
}
