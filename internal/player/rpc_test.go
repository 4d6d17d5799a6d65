package player

import (
	"errors"
	"testing"
	"time"

	"github.com/lessongate/lessongate/internal/provider"
)

var youtubeSource = Source{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Provider: provider.YouTube}

func rpcHarness(sdk *stubSDK) (*harness, *SDKHost, Deps) {
	h := newHarness()
	host := NewSDKHost(sdk)
	deps := h.deps()
	deps.SDKHosts = map[provider.Provider]*SDKHost{provider.YouTube: host}
	return h, host, deps
}

func startRPC(t *testing.T, deps Deps, elementID string, resumeMs int64) Adapter {
	t.Helper()
	a, err := New(KindRPC, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(Mount{ElementID: elementID}, youtubeSource, resumeMs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func TestSDKHostLoadsOnceAndUnloadsOnLastRelease(t *testing.T) {
	sdk := &stubSDK{duration: 200}
	_, host, deps := rpcHarness(sdk)

	first := startRPC(t, deps, "player-1", 0)
	second := startRPC(t, deps, "player-2", 0)

	if sdk.loads != 1 {
		t.Fatalf("loads = %d, want 1", sdk.loads)
	}
	if len(sdk.players) != 0 {
		t.Fatalf("players created before ready: %d", len(sdk.players))
	}

	sdk.ready()
	if len(sdk.players) != 2 {
		t.Fatalf("players after ready = %d, want 2", len(sdk.players))
	}
	if sdk.players[0].elementID != "player-1" || sdk.players[1].elementID != "player-2" {
		t.Errorf("players created out of order: %q, %q", sdk.players[0].elementID, sdk.players[1].elementID)
	}
	if host.Refs() != 2 {
		t.Errorf("refs = %d, want 2", host.Refs())
	}

	third := startRPC(t, deps, "player-3", 0)
	if len(sdk.players) != 3 || sdk.loads != 1 {
		t.Errorf("late consumer: players=%d loads=%d, want immediate creation without reload", len(sdk.players), sdk.loads)
	}

	first.Dispose()
	second.Dispose()
	if sdk.unloads != 0 {
		t.Fatalf("unloaded while a consumer remains")
	}
	third.Dispose()
	third.Dispose()
	if sdk.unloads != 1 || host.Refs() != 0 {
		t.Errorf("unloads=%d refs=%d, want 1 and 0", sdk.unloads, host.Refs())
	}
	for i, p := range sdk.players {
		if p.destroys != 1 {
			t.Errorf("player %d destroyed %d times, want 1", i, p.destroys)
		}
	}

	startRPC(t, deps, "player-4", 0)
	if sdk.loads != 2 {
		t.Errorf("loads after full release = %d, want 2", sdk.loads)
	}
}

func TestSDKHostDisposeWhileLoading(t *testing.T) {
	sdk := &stubSDK{}
	_, host, deps := rpcHarness(sdk)

	a := startRPC(t, deps, "player", 0)
	a.Dispose()
	if sdk.unloads != 1 || host.Refs() != 0 {
		t.Fatalf("unloads=%d refs=%d", sdk.unloads, host.Refs())
	}

	// A ready hook that fires after everyone left creates nothing.
	sdk.ready()
	if len(sdk.players) != 0 {
		t.Errorf("players = %d, want 0", len(sdk.players))
	}
}

func TestSDKHostLoadError(t *testing.T) {
	sdk := &stubSDK{loadErr: errors.New("script blocked")}
	_, host, deps := rpcHarness(sdk)

	a, _ := New(KindRPC, deps)
	if err := a.Start(Mount{ElementID: "player"}, youtubeSource, 0); err == nil {
		t.Fatal("expected load error")
	}
	if host.Refs() != 0 {
		t.Errorf("refs = %d after failed load", host.Refs())
	}

	sdk.loadErr = nil
	startRPC(t, deps, "player", 0)
	if sdk.loads != 2 {
		t.Errorf("loads = %d, want a fresh attempt", sdk.loads)
	}
}

func TestRPCResumeOnReady(t *testing.T) {
	tests := []struct {
		name     string
		resumeMs int64
		want     []float64
	}{
		{"seeks to the resume point", 90_000, []float64{90}},
		{"inside the guard starts over", 197_000, nil},
		{"no resume point", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sdk := &stubSDK{autoReady: true, duration: 200}
			_, _, deps := rpcHarness(sdk)
			startRPC(t, deps, "player", tt.resumeMs)
			p := sdk.players[0]
			p.events.OnReady()
			if len(p.seeks) != len(tt.want) || (len(tt.want) == 1 && p.seeks[0] != tt.want[0]) {
				t.Errorf("seeks = %v, want %v", p.seeks, tt.want)
			}
		})
	}
}

func TestRPCSamplesOnlyWhilePlaying(t *testing.T) {
	sdk := &stubSDK{autoReady: true, duration: 200}
	h, _, deps := rpcHarness(sdk)
	startRPC(t, deps, "player", 0)
	p := sdk.players[0]
	p.events.OnReady()

	h.step(10 * time.Second)
	if h.rec.count() != 0 || p.currentCalls != 0 {
		t.Fatalf("sampled before playing: samples=%d calls=%d", h.rec.count(), p.currentCalls)
	}

	p.events.OnStateChange(RemotePlaying)
	p.current = 50
	h.step(5 * time.Second)
	if got := h.rec.last(); got.Percent != 25 || got.PositionMs != 50_000 {
		t.Errorf("sample = %+v, want 25%% at 50000ms", got)
	}

	p.events.OnStateChange(RemoteBuffering)
	p.current = 60
	h.step(5 * time.Second)
	if got := h.rec.count(); got != 2 {
		t.Errorf("buffering stopped sampling: %d samples", got)
	}

	p.events.OnStateChange(RemoteEnded)
	h.step(20 * time.Second)
	if got := h.rec.count(); got != 2 {
		t.Errorf("samples after end = %d, want 2", got)
	}
}

func TestRPCDisposeDuringPollEmitsNothing(t *testing.T) {
	sdk := &stubSDK{autoReady: true, duration: 100}
	h, _, deps := rpcHarness(sdk)
	a := startRPC(t, deps, "player", 0)
	p := sdk.players[0]
	p.events.OnReady()
	p.events.OnStateChange(RemotePlaying)

	p.current = 30
	h.step(5 * time.Second)
	if got := h.rec.count(); got != 1 {
		t.Fatalf("samples = %d, want 1", got)
	}

	// The view goes away while the poll is reading the remote player.
	p.onCurrent = func() { a.Dispose() }
	p.current = 35
	h.step(5 * time.Second)
	p.onCurrent = nil
	h.step(30 * time.Second)

	if got := h.rec.count(); got != 1 {
		t.Errorf("samples after dispose = %d, want 1", got)
	}
	if h.sched.Len() != 0 {
		t.Errorf("scheduler holds %d subscriptions after dispose", h.sched.Len())
	}
	if p.destroys != 1 || sdk.unloads != 1 {
		t.Errorf("destroys=%d unloads=%d, want 1 each", p.destroys, sdk.unloads)
	}
}

func TestRPCSnapshotFetchesDurationLazily(t *testing.T) {
	sdk := &stubSDK{autoReady: true}
	_, _, deps := rpcHarness(sdk)
	a := startRPC(t, deps, "player", 0)
	p := sdk.players[0]
	p.events.OnReady()

	p.current = 10
	if _, ok := a.Snapshot(); ok {
		t.Fatal("Snapshot ok without any duration")
	}
	p.duration = 40
	s, ok := a.Snapshot()
	if !ok || s.Percent != 25 {
		t.Errorf("Snapshot = (%+v, %v), want 25%%", s, ok)
	}
}
