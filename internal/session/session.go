// Package session wires one lesson page view together: the detected provider
// picks an adapter, adapter samples feed the reconciler, and every accepted
// sample or requirements refresh re-evaluates the completion controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lessongate/lessongate/internal/completion"
	"github.com/lessongate/lessongate/internal/gate"
	"github.com/lessongate/lessongate/internal/player"
	"github.com/lessongate/lessongate/internal/progress"
	"github.com/lessongate/lessongate/internal/provider"
)

var ErrClosed = errors.New("session: closed")

type Config struct {
	// Source carries the lesson's video URL. Its Provider is treated as a hint
	// and corrected by detection.
	Source       player.Source
	Mount        player.Mount
	Requirements gate.Requirements
	// Resume is the progress already stored for this learner.
	Resume progress.State

	Player          player.Deps
	Persist         progress.PersistFunc
	ProgressOptions []progress.Option
	Backend         completion.Backend
	Callbacks       completion.Callbacks

	OnPlayStateChange func(playing bool)
	OnError           func(err error)
}

type Session struct {
	mu      sync.Mutex
	cfg     Config
	src     player.Source
	req     gate.Requirements
	adapter player.Adapter
	closed  bool

	recon *progress.Reconciler
	ctrl  *completion.Controller
}

// Open resolves the provider and starts the routed adapter. A lesson with no
// usable video URL opens without an adapter. An adapter that fails to start
// is reported through OnError and replaced by the fallback chain; the session
// and its gating stay up either way.
func Open(cfg Config) (*Session, error) {
	if cfg.Player.Scheduler == nil {
		return nil, errors.New("session: scheduler is required")
	}
	src := cfg.Source
	src.Provider = provider.Detect(src.URL, src.Provider)
	src.Segmented = src.Segmented || provider.NeedsSegmentedDelivery(src.URL)

	s := &Session{cfg: cfg, src: src, req: cfg.Requirements}
	opts := []progress.Option{progress.WithInitial(cfg.Resume)}
	opts = append(opts, cfg.ProgressOptions...)
	opts = append(opts, progress.WithOnAccept(s.onAccept))
	s.recon = progress.New(cfg.Persist, opts...)
	s.ctrl = completion.New(cfg.Backend, cfg.Callbacks)
	s.ctrl.Update(s.req, s.recon.WatchedPercent())

	kind, ok := player.KindFor(src, cfg.Mount, cfg.Player.SDKHosts)
	if !ok {
		slog.Debug("session: no video to track", "url", src.URL)
		return s, nil
	}
	for _, k := range degradeChain(kind, cfg.Mount) {
		err := s.start(k)
		if err == nil {
			break
		}
		s.reportError(err)
	}
	return s, nil
}

// degradeChain lists kind followed by the fallbacks still worth trying.
func degradeChain(kind player.Kind, m player.Mount) []player.Kind {
	chain := []player.Kind{kind}
	for _, k := range []player.Kind{player.Fallback(m), player.KindEstimate} {
		if k != chain[len(chain)-1] && k != kind {
			chain = append(chain, k)
		}
	}
	return chain
}

// SwitchTo replaces the running adapter. The old one gets a final
// reconciliation and is disposed before the new one starts.
func (s *Session) SwitchTo(kind player.Kind) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	s.retire(old)
	return s.start(kind)
}

func (s *Session) start(kind player.Kind) error {
	var adapter player.Adapter
	deps := s.cfg.Player
	deps.Listener = player.Listener{
		OnProgress: func(sample player.Sample) { s.recon.Submit(sample) },
		OnPlayStateChange: func(playing bool) {
			if !playing {
				s.recon.Finalize(adapter)
			}
			if s.cfg.OnPlayStateChange != nil {
				s.cfg.OnPlayStateChange(playing)
			}
		},
		OnError: s.reportError,
	}

	a, err := player.New(kind, deps)
	if err != nil {
		return err
	}
	adapter = a

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.adapter = a
	s.mu.Unlock()

	src := s.src
	src.KnownPercent = s.recon.WatchedPercent()
	if err := a.Start(s.cfg.Mount, src, s.recon.State().LastPositionMs); err != nil {
		s.mu.Lock()
		if s.adapter == a {
			s.adapter = nil
		}
		s.mu.Unlock()
		a.Dispose()
		return fmt.Errorf("session: start %s adapter: %w", kind, err)
	}
	return nil
}

func (s *Session) reportError(err error) {
	slog.Warn("session: playback error", "provider", string(s.src.Provider), "error", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

func (s *Session) retire(a player.Adapter) {
	if a == nil {
		return
	}
	s.recon.Finalize(a)
	a.Dispose()
}

// UpdateRequirements applies a refreshed requirements snapshot.
func (s *Session) UpdateRequirements(req gate.Requirements) {
	s.mu.Lock()
	s.req = req
	s.mu.Unlock()
	s.ctrl.Update(req, s.recon.WatchedPercent())
}

func (s *Session) onAccept(st progress.State) {
	s.mu.Lock()
	req := s.req
	s.mu.Unlock()
	s.ctrl.Update(req, st.WatchedPercent)
}

// Close finalizes and disposes the adapter. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	a := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	s.retire(a)
}

// Wait blocks until pending progress writes have returned.
func (s *Session) Wait() { s.recon.Wait() }

func (s *Session) Source() player.Source { return s.src }

// Kind reports the running adapter's kind, or false when there is none.
func (s *Session) Kind() (player.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter == nil {
		return 0, false
	}
	return s.adapter.Kind(), true
}

func (s *Session) WatchedPercent() float64 { return s.recon.WatchedPercent() }

func (s *Session) Progress() progress.State { return s.recon.State() }

func (s *Session) Gates() gate.Gates { return s.ctrl.Gates() }

func (s *Session) State() completion.State { return s.ctrl.State() }

func (s *Session) BlockingMessage() string { return s.ctrl.BlockingMessage() }

func (s *Session) Confirm(ctx context.Context) (completion.Result, error) {
	return s.ctrl.Confirm(ctx)
}

func (s *Session) Continue() bool { return s.ctrl.Continue() }
