// Package statemachine implements a configuration-driven conversation state
// machine: guarded transitions evaluated in declaration order, entry and exit
// actions, a fallback sink for unrecognized input, and bounded cascades.
package statemachine

import (
	"context"
	"slices"
)

// Phase says when an action runs relative to a transition.
type Phase string

const (
	PhaseEnter Phase = "enter"
	PhaseExit  Phase = "exit"
)

// Action is a side effect bound to entering or leaving a state.
type Action interface {
	Name() string
	Execute(ctx context.Context, fc *Context) error
}

// BaseAction provides common functionality for actions.
type BaseAction struct {
	name string
}

func (a *BaseAction) Name() string {
	return a.name
}

// FuncAction adapts a function to the Action interface.
type FuncAction struct {
	BaseAction

	fn func(ctx context.Context, fc *Context) error
}

// NewAction creates an action from a function.
func NewAction(name string, fn func(ctx context.Context, fc *Context) error) *FuncAction {
	return &FuncAction{
		BaseAction: BaseAction{name: name},
		fn:         fn,
	}
}

func (a *FuncAction) Execute(ctx context.Context, fc *Context) error {
	return a.fn(ctx, fc)
}

// CascadeAction requests a follow-up trigger.
type CascadeAction struct {
	BaseAction

	trigger string
}

// NewCascadeAction creates an action that cascades trigger.
func NewCascadeAction(name, trigger string) *CascadeAction {
	return &CascadeAction{
		BaseAction: BaseAction{name: name},
		trigger:    trigger,
	}
}

func (a *CascadeAction) Execute(_ context.Context, fc *Context) error {
	fc.Cascade(a.trigger)

	return nil
}

// Dispatcher binds ordered entry and exit actions to state names.
type Dispatcher struct {
	enter map[string][]Action
	exit  map[string][]Action
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		enter: make(map[string][]Action),
		exit:  make(map[string][]Action),
	}
}

// OnEnter appends actions run after state is entered.
func (d *Dispatcher) OnEnter(state string, actions ...Action) *Dispatcher {
	d.enter[state] = append(d.enter[state], actions...)

	return d
}

// OnExit appends actions run before state is left.
func (d *Dispatcher) OnExit(state string, actions ...Action) *Dispatcher {
	d.exit[state] = append(d.exit[state], actions...)

	return d
}

// Actions returns the actions bound to state for phase.
func (d *Dispatcher) Actions(state string, phase Phase) []Action {
	if phase == PhaseExit {
		return d.exit[state]
	}

	return d.enter[state]
}

// States returns every state that has at least one action bound, sorted.
func (d *Dispatcher) States() []string {
	states := make([]string, 0, len(d.enter)+len(d.exit))

	for state := range d.enter {
		states = append(states, state)
	}

	for state := range d.exit {
		if _, dup := d.enter[state]; !dup {
			states = append(states, state)
		}
	}

	slices.Sort(states)

	return states
}

// Clone returns an independent copy of the bindings.
func (d *Dispatcher) Clone() *Dispatcher {
	out := NewDispatcher()

	for state, actions := range d.enter {
		out.enter[state] = slices.Clone(actions)
	}

	for state, actions := range d.exit {
		out.exit[state] = slices.Clone(actions)
	}

	return out
}
