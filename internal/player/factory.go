package player

import (
	"errors"
	"fmt"

	"github.com/lessongate/lessongate/internal/provider"
	"github.com/lessongate/lessongate/internal/schedule"
)

// Deps are what every adapter is built from.
type Deps struct {
	Scheduler *schedule.Scheduler
	Listener  Listener
	Options   Options
	// SDKHosts holds the process-wide SDK state per scripted provider.
	SDKHosts map[provider.Provider]*SDKHost
}

// New builds the adapter for kind.
func New(kind Kind, deps Deps) (Adapter, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("player: scheduler is required")
	}
	switch kind {
	case KindNative:
		return newNative(deps.Scheduler, deps.Listener, deps.Options), nil
	case KindRPC:
		return newRPC(deps.Scheduler, deps.Listener, deps.Options, deps.SDKHosts), nil
	case KindMessaging:
		return newMessaging(deps.Scheduler, deps.Listener, deps.Options), nil
	case KindFocus:
		return newFocus(deps.Scheduler, deps.Listener, deps.Options), nil
	case KindEstimate:
		return newEstimate(deps.Scheduler, deps.Listener, deps.Options), nil
	default:
		return nil, fmt.Errorf("player: unknown adapter kind %d", int(kind))
	}
}

// KindFor routes a source to the adapter family that can observe it through
// the channels the mount offers. Without a usable channel it degrades to the
// focus heuristic, and without that to estimation. ok is false for None.
func KindFor(src Source, m Mount, hosts map[provider.Provider]*SDKHost) (kind Kind, ok bool) {
	switch src.Provider {
	case provider.None, "":
		return 0, false
	case provider.DirectFile:
		if m.Surface != nil && canPlay(src, m) {
			return KindNative, true
		}
	case provider.YouTube:
		if hosts[src.Provider] != nil && m.ElementID != "" {
			return KindRPC, true
		}
	case provider.Vimeo, provider.Wistia:
		if m.Messages != nil {
			return KindMessaging, true
		}
	}
	return Fallback(m), true
}

// canPlay reports whether the surface can take src, natively or through the
// streaming engine.
func canPlay(src Source, m Mount) bool {
	return !src.Segmented || m.NativeSegmented || m.Engine != nil
}

// Fallback is the adapter to use when no control channel is available.
func Fallback(m Mount) Kind {
	if m.Focus != nil {
		return KindFocus
	}
	return KindEstimate
}
