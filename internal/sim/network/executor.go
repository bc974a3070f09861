package network

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

var ErrDomainNotFound = errors.New("network: domain not found")

// ValidateFunc wraps the execution of a single action, typically to run a
// shadow copy alongside it. It returns whether validation passed.
type ValidateFunc func(a Action, primary func()) bool

// Executor dispatches inbound actions into one match.
type Executor struct {
	state  State
	before []func(Action)

	// Validate, when set, wraps every dispatch.
	Validate ValidateFunc
}

func NewExecutor(state State) *Executor {
	return &Executor{state: state}
}

func (e *Executor) State() State { return e.state }

// OnBeforeAction registers fn to run right before each dispatched action.
func (e *Executor) OnBeforeAction(fn func(Action)) {
	e.before = append(e.before, fn)
}

// Execute resolves a's domain and runs it. A non-nil executorID overrides the
// id the sender claimed. Failures are reported to onError and return false.
func (e *Executor) Execute(a Action, executorID *uuid.UUID, onError func(error)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			report(onError, fmt.Errorf("execute %s: %v", core.ActionName(a), r))
		}
	}()

	h := a.NetHeader()
	domain, found := e.state.Game().Lookup(h.DomainID)
	if !found {
		report(onError, fmt.Errorf("%w: %d", ErrDomainNotFound, h.DomainID))
		return false
	}
	if executorID != nil {
		h.ExecutorID = ptr(*executorID)
	}

	run := func() {
		for _, fn := range e.before {
			fn(a)
		}
		core.Execute(domain, a)
	}
	if e.Validate != nil {
		return e.Validate(a, run)
	}
	run()
	return true
}

// ExecuteBatch decodes a JSON array of envelopes and executes each action in
// order. It returns the number of actions dispatched without error.
func (e *Executor) ExecuteBatch(data []byte, executorID *uuid.UUID, onError func(error)) int {
	actions, errs, err := e.state.Game().Codec().DecodeBatch(data)
	if err != nil {
		report(onError, err)
		return 0
	}
	n := 0
	for i, a := range actions {
		if errs[i] != nil {
			report(onError, fmt.Errorf("batch[%d]: %w", i, errs[i]))
			continue
		}
		if e.Execute(a, executorID, onError) {
			n++
		}
	}
	return n
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
