package player

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/schedule"
)

type recorder struct {
	mu      sync.Mutex
	samples []Sample
	states  []bool
	errs    []error
}

func (r *recorder) listener() Listener {
	return Listener{
		OnProgress: func(s Sample) {
			r.mu.Lock()
			r.samples = append(r.samples, s)
			r.mu.Unlock()
		},
		OnPlayStateChange: func(playing bool) {
			r.mu.Lock()
			r.states = append(r.states, playing)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *recorder) last() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return Sample{}
	}
	return r.samples[len(r.samples)-1]
}

func (r *recorder) playStates() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type harness struct {
	clock clockwork.FakeClock
	sched *schedule.Scheduler
	rec   *recorder
}

func newHarness() *harness {
	clock := clockwork.NewFakeClock()
	return &harness{clock: clock, sched: schedule.New(clock), rec: &recorder{}}
}

func (h *harness) deps() Deps {
	return Deps{Scheduler: h.sched, Listener: h.rec.listener()}
}

func (h *harness) step(d time.Duration) {
	h.clock.Advance(d)
	h.sched.Tick()
}

type stubSurface struct {
	source       string
	setErr       error
	seeks        []int64
	position     int64
	duration     float64
	events       MediaEvents
	unwatchCalls int
	detachCalls  int
}

func (s *stubSurface) SetSource(url string) error {
	s.source = url
	return s.setErr
}

func (s *stubSurface) Seek(positionMs int64) {
	s.seeks = append(s.seeks, positionMs)
	s.position = positionMs
}

func (s *stubSurface) PositionMs() int64        { return s.position }
func (s *stubSurface) DurationSeconds() float64 { return s.duration }

func (s *stubSurface) Watch(events MediaEvents) func() {
	s.events = events
	return func() {
		s.unwatchCalls++
		s.events = MediaEvents{}
	}
}

func (s *stubSurface) Detach() { s.detachCalls++ }

type stubEngine struct {
	loaded       string
	loadErr      error
	startLoads   int
	recoveries   int
	destroys     int
	unsubscribes int
	fault        func(Fault)
}

func (e *stubEngine) Load(url string) error {
	e.loaded = url
	return e.loadErr
}

func (e *stubEngine) StartLoad()        { e.startLoads++ }
func (e *stubEngine) RecoverMediaError() { e.recoveries++ }
func (e *stubEngine) Destroy()          { e.destroys++ }

func (e *stubEngine) OnFault(fn func(Fault)) func() {
	e.fault = fn
	return func() { e.unsubscribes++ }
}

type stubRemote struct {
	elementID    string
	events       RemoteEvents
	duration     float64
	current      float64
	seeks        []float64
	destroys     int
	currentCalls int
	onCurrent    func()
}

func (p *stubRemote) DurationSeconds() (float64, error) { return p.duration, nil }

func (p *stubRemote) CurrentTimeSeconds() (float64, error) {
	p.currentCalls++
	if p.onCurrent != nil {
		p.onCurrent()
	}
	return p.current, nil
}

func (p *stubRemote) SeekTo(seconds float64) error {
	p.seeks = append(p.seeks, seconds)
	return nil
}

func (p *stubRemote) Destroy() { p.destroys++ }

type stubSDK struct {
	loads     int
	unloads   int
	loadErr   error
	autoReady bool
	ready     func()
	duration  float64
	players   []*stubRemote
}

func (s *stubSDK) Load(ready func()) error {
	s.loads++
	if s.loadErr != nil {
		return s.loadErr
	}
	s.ready = ready
	if s.autoReady {
		ready()
	}
	return nil
}

func (s *stubSDK) NewPlayer(elementID string, events RemoteEvents) (RemotePlayer, error) {
	if elementID == "" {
		return nil, errors.New("no element")
	}
	p := &stubRemote{elementID: elementID, events: events, duration: s.duration}
	s.players = append(s.players, p)
	return p, nil
}

func (s *stubSDK) Unload() { s.unloads++ }

type stubPort struct {
	posted   []string
	listener func(origin string, data []byte)
	stops    int
}

func (p *stubPort) Post(message []byte) error {
	p.posted = append(p.posted, string(message))
	return nil
}

func (p *stubPort) Listen(fn func(origin string, data []byte)) func() {
	p.listener = fn
	return func() {
		p.stops++
		p.listener = nil
	}
}

func (p *stubPort) send(origin, msg string) {
	if p.listener != nil {
		p.listener(origin, []byte(msg))
	}
}

type stubFocus struct {
	fn    func(bool)
	stops int
}

func (f *stubFocus) Watch(fn func(bool)) func() {
	f.fn = fn
	return func() {
		f.stops++
		f.fn = nil
	}
}

func (f *stubFocus) set(focused bool) {
	if f.fn != nil {
		f.fn(focused)
	}
}
