package player

import (
	"testing"
	"time"

	"github.com/lessongate/lessongate/internal/provider"
)

func startFocus(t *testing.T, h *harness, focus *stubFocus, src Source, resumeMs int64) Adapter {
	t.Helper()
	a, err := New(KindFocus, h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(Mount{Focus: focus}, src, resumeMs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

var loomSource = Source{URL: "https://www.loom.com/share/abc", Provider: provider.Loom, DurationSeconds: 100}

func TestFocusDwellInfersPlay(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	startFocus(t, h, focus, loomSource, 0)

	focus.set(true)
	h.step(2 * time.Second)
	if len(h.rec.playStates()) != 0 {
		t.Fatal("play inferred before the dwell elapsed")
	}
	h.step(time.Second)
	if states := h.rec.playStates(); len(states) != 1 || !states[0] {
		t.Fatalf("play states = %v, want [true]", states)
	}

	h.step(5 * time.Second)
	got := h.rec.last()
	if h.rec.count() != 1 || got.PositionMs != 5_000 || got.Percent != 5 || got.Signal != SignalHeuristic {
		t.Errorf("sample = %+v (count %d), want heuristic 5%% at 5000ms", got, h.rec.count())
	}
}

func TestFocusLostBeforeDwell(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	startFocus(t, h, focus, loomSource, 0)

	focus.set(true)
	h.step(2 * time.Second)
	focus.set(false)
	h.step(5 * time.Second)
	if len(h.rec.playStates()) != 0 {
		t.Errorf("play inferred after focus was lost: %v", h.rec.playStates())
	}
	if h.sched.Len() != 0 {
		t.Errorf("dwell still scheduled")
	}
}

func TestFocusRearmedResumesImmediately(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	a := startFocus(t, h, focus, loomSource, 0)

	focus.set(true)
	h.step(3 * time.Second)
	h.step(2 * time.Second)
	focus.set(false)

	s, _ := a.Snapshot()
	if s.PositionMs != 2_000 {
		t.Fatalf("position after pause = %d, want 2000", s.PositionMs)
	}

	h.step(10 * time.Second)
	if s, _ := a.Snapshot(); s.PositionMs != 2_000 {
		t.Errorf("position advanced while paused: %d", s.PositionMs)
	}

	focus.set(true)
	if states := h.rec.playStates(); len(states) != 3 || !states[2] {
		t.Fatalf("play states = %v, want immediate resume", states)
	}
	h.step(5 * time.Second)
	if got := h.rec.last().PositionMs; got != 7_000 {
		t.Errorf("position = %d, want 7000", got)
	}
}

func TestFocusCapsAtDuration(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	a := startFocus(t, h, focus, Source{URL: loomSource.URL, Provider: provider.Loom, DurationSeconds: 8}, 0)

	focus.set(true)
	h.step(3 * time.Second)
	h.step(5 * time.Second)
	h.step(5 * time.Second)
	s, _ := a.Snapshot()
	if s.PositionMs != 8_000 || s.Percent != 100 {
		t.Errorf("Snapshot = %+v, want capped at 8000ms and 100%%", s)
	}
}

func TestFocusAssumedDurationAndResume(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	a := startFocus(t, h, focus, Source{URL: "https://example.com/embed/1", Provider: provider.GenericEmbed}, 150_000)

	s, ok := a.Snapshot()
	if !ok || s.PositionMs != 150_000 || s.Percent != 50 {
		t.Errorf("Snapshot = (%+v, %v), want 50%% of the assumed five minutes", s, ok)
	}
}

func TestFocusDisposeCancelsDwell(t *testing.T) {
	h := newHarness()
	focus := &stubFocus{}
	a := startFocus(t, h, focus, loomSource, 0)

	focus.set(true)
	a.Dispose()
	a.Dispose()
	h.step(10 * time.Second)
	if len(h.rec.playStates()) != 0 || h.rec.count() != 0 {
		t.Errorf("activity after dispose: states=%v samples=%d", h.rec.playStates(), h.rec.count())
	}
	if focus.stops != 1 || h.sched.Len() != 0 {
		t.Errorf("stops=%d subscriptions=%d", focus.stops, h.sched.Len())
	}
}
