// Package completion drives the lesson's completion call to action: it unlocks
// automatically when every gate is met and completes only on an explicit
// confirmation.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lessongate/lessongate/internal/gate"
)

type State int

const (
	Locked State = iota
	Unlockable
	Completing
	Completed
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlockable:
		return "unlockable"
	case Completing:
		return "completing"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Presentation selects what the learner sees after completing. It never
// changes whether the lesson counts as complete.
type Presentation string

const (
	HasNextLesson   Presentation = "has-next-lesson"
	ProgramFinished Presentation = "program-finished"
)

type Result struct {
	Presentation Presentation `json:"presentation"`
	NextLessonID string       `json:"nextLessonId,omitempty"`
}

// Backend records completion and finds what comes next.
type Backend interface {
	MarkComplete(ctx context.Context) error
	NextLesson(ctx context.Context) (lessonID string, ok bool, err error)
}

// Callbacks are invoked outside the controller's lock. Any may be nil.
type Callbacks struct {
	OnStateChange func(from, to State)
	OnComplete    func(Result)
	OnContinue    func(nextLessonID string)
}

var (
	ErrLocked           = errors.New("completion: lesson requirements not met")
	ErrInFlight         = errors.New("completion: submission already in progress")
	ErrAlreadyCompleted = errors.New("completion: lesson already completed")
)

type Controller struct {
	mu      sync.Mutex
	backend Backend
	cb      Callbacks
	state   State
	req     gate.Requirements
	gates   gate.Gates
	result  Result
}

// New returns a Locked controller. The first Update evaluates the gates.
func New(backend Backend, cb Callbacks) *Controller {
	return &Controller{backend: backend, cb: cb, state: Locked}
}

// Update recomputes the gates. Locked and Unlockable follow the gates
// automatically; Completing and Completed are left alone.
func (c *Controller) Update(req gate.Requirements, watchedPercent float64) {
	c.mu.Lock()
	c.req = req
	c.gates = gate.Evaluate(req, watchedPercent)
	from := c.state
	if from == Locked || from == Unlockable {
		c.state = c.gatedStateLocked()
	}
	to := c.state
	c.mu.Unlock()

	c.notify(from, to)
}

// Confirm submits completion. On failure the controller returns to the state
// the current gates call for and the error is returned so the learner can
// retry.
func (c *Controller) Confirm(ctx context.Context) (Result, error) {
	c.mu.Lock()
	switch c.state {
	case Locked:
		c.mu.Unlock()
		return Result{}, ErrLocked
	case Completing:
		c.mu.Unlock()
		return Result{}, ErrInFlight
	case Completed:
		res := c.result
		c.mu.Unlock()
		return res, ErrAlreadyCompleted
	}
	c.state = Completing
	c.mu.Unlock()
	c.notify(Unlockable, Completing)

	if err := c.backend.MarkComplete(ctx); err != nil {
		c.mu.Lock()
		c.state = c.gatedStateLocked()
		to := c.state
		c.mu.Unlock()
		c.notify(Completing, to)
		slog.Warn("completion: mark complete failed", "error", err)
		return Result{}, fmt.Errorf("mark complete: %w", err)
	}

	res := Result{Presentation: ProgramFinished}
	next, ok, err := c.backend.NextLesson(ctx)
	switch {
	case err != nil:
		slog.Warn("completion: next lesson lookup failed", "error", err)
	case ok && next != "":
		res = Result{Presentation: HasNextLesson, NextLessonID: next}
	}

	c.mu.Lock()
	c.state = Completed
	c.result = res
	c.mu.Unlock()
	c.notify(Completing, Completed)

	if c.cb.OnComplete != nil {
		c.cb.OnComplete(res)
	}
	return res, nil
}

// Continue moves on to the next lesson. It reports false when there is none
// or the lesson is not completed yet.
func (c *Controller) Continue() bool {
	c.mu.Lock()
	if c.state != Completed || c.result.Presentation != HasNextLesson {
		c.mu.Unlock()
		return false
	}
	next := c.result.NextLessonID
	c.mu.Unlock()

	if c.cb.OnContinue != nil {
		c.cb.OnContinue(next)
	}
	return true
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Gates() gate.Gates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gates
}

func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// BlockingMessage explains which gates are still unmet, from the same gates
// Update computed.
func (c *Controller) BlockingMessage() string {
	c.mu.Lock()
	req, g := c.req, c.gates
	c.mu.Unlock()
	return gate.BlockingMessage(req, g)
}

func (c *Controller) gatedStateLocked() State {
	if c.gates.All {
		return Unlockable
	}
	return Locked
}

func (c *Controller) notify(from, to State) {
	if from != to && c.cb.OnStateChange != nil {
		c.cb.OnStateChange(from, to)
	}
}
