package player

import (
	"sort"
	"sync"
)

// RemoteState is the play state reported by a scripted remote player. The values
// follow the common iframe player API numbering.
type RemoteState int

const (
	RemoteUnstarted RemoteState = -1
	RemoteEnded     RemoteState = 0
	RemotePlaying   RemoteState = 1
	RemotePaused    RemoteState = 2
	RemoteBuffering RemoteState = 3
	RemoteCued      RemoteState = 5
)

// RemoteEvents are the callbacks a remote player invokes.
type RemoteEvents struct {
	OnReady       func()
	OnStateChange func(RemoteState)
}

// RemotePlayer is the structured player object an injected SDK binds to an
// iframe element.
type RemotePlayer interface {
	DurationSeconds() (float64, error)
	CurrentTimeSeconds() (float64, error)
	SeekTo(seconds float64) error
	Destroy()
}

// SDK is an external player API script. Load injects it and calls ready once the
// script's global ready hook fires; Unload removes it.
type SDK interface {
	Load(ready func()) error
	NewPlayer(elementID string, events RemoteEvents) (RemotePlayer, error)
	Unload()
}

type sdkState int

const (
	sdkIdle sdkState = iota
	sdkLoading
	sdkReady
)

// SDKHost owns the process-wide state of one SDK: the script loads once no
// matter how many players want it, every consumer waiting on the global ready
// hook is notified, and the script is unloaded when the last consumer releases.
type SDKHost struct {
	mu      sync.Mutex
	sdk     SDK
	state   sdkState
	refs    int
	nextID  uint64
	waiters map[uint64]func()
}

func NewSDKHost(sdk SDK) *SDKHost {
	return &SDKHost{sdk: sdk, waiters: make(map[uint64]func())}
}

// Acquire registers a consumer. onReady runs once the SDK is ready, immediately
// if it already is. The returned release is idempotent.
func (h *SDKHost) Acquire(onReady func()) (release func(), err error) {
	h.mu.Lock()
	h.refs++
	h.nextID++
	id := h.nextID
	var once sync.Once
	release = func() { once.Do(func() { h.release(id) }) }

	switch h.state {
	case sdkReady:
		h.mu.Unlock()
		onReady()
		return release, nil
	case sdkLoading:
		h.waiters[id] = onReady
		h.mu.Unlock()
		return release, nil
	}

	h.state = sdkLoading
	h.waiters[id] = onReady
	h.mu.Unlock()

	if err := h.sdk.Load(h.ready); err != nil {
		h.mu.Lock()
		h.refs--
		delete(h.waiters, id)
		if h.state == sdkLoading {
			h.state = sdkIdle
		}
		h.mu.Unlock()
		return nil, err
	}
	return release, nil
}

// Refs reports how many consumers hold the SDK.
func (h *SDKHost) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

func (h *SDKHost) newPlayer(elementID string, events RemoteEvents) (RemotePlayer, error) {
	return h.sdk.NewPlayer(elementID, events)
}

func (h *SDKHost) ready() {
	h.mu.Lock()
	if h.state != sdkLoading {
		h.mu.Unlock()
		return
	}
	h.state = sdkReady
	ids := make([]uint64, 0, len(h.waiters))
	for id := range h.waiters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]func(), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, h.waiters[id])
	}
	h.waiters = make(map[uint64]func())
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (h *SDKHost) release(id uint64) {
	h.mu.Lock()
	delete(h.waiters, id)
	h.refs--
	unload := h.refs == 0 && h.state != sdkIdle
	if h.refs == 0 {
		h.state = sdkIdle
		h.waiters = make(map[uint64]func())
	}
	h.mu.Unlock()

	if unload {
		h.sdk.Unload()
	}
}
