package statemachine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Built-in guard names.
const (
	GuardPass   = "is_pass"
	GuardFailed = "is_failed"
)

// Guard is a named predicate over the triggering event and conversation
// context. Guards must not mutate external state.
type Guard func(ctx context.Context, fc *Context) (bool, error)

// GuardRegistry maps guard names to predicates. Transition tables resolve
// their conditions against a registry once, when they are compiled.
type GuardRegistry struct {
	mu     sync.RWMutex
	guards map[string]*boundGuard
}

type boundGuard struct {
	name    string
	fn      Guard
	io      bool
	timeout time.Duration
}

// NewGuardRegistry creates a registry holding the built-in guards.
func NewGuardRegistry() *GuardRegistry {
	registry := &GuardRegistry{
		guards: make(map[string]*boundGuard),
	}

	registry.MustRegister(GuardPass, func(context.Context, *Context) (bool, error) { return true, nil })
	registry.MustRegister(GuardFailed, func(context.Context, *Context) (bool, error) { return false, nil })

	return registry
}

// Register adds a pure guard.
func (r *GuardRegistry) Register(name string, guard Guard) error {
	return r.add(&boundGuard{name: name, fn: guard})
}

// MustRegister adds a pure guard and panics if the name is taken.
func (r *GuardRegistry) MustRegister(name string, guard Guard) {
	if err := r.Register(name, guard); err != nil {
		panic(err)
	}
}

// RegisterIO adds a guard that performs I/O. Each evaluation is bounded by
// timeout; any failure makes the guard evaluate to false.
func (r *GuardRegistry) RegisterIO(name string, timeout time.Duration, guard Guard) error {
	return r.add(&boundGuard{name: name, fn: guard, io: true, timeout: timeout})
}

func (r *GuardRegistry) add(guard *boundGuard) error {
	if guard.name == "" || guard.fn == nil {
		return fmt.Errorf("%w: guard name and function are required", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guards[guard.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateGuard, guard.name)
	}

	r.guards[guard.name] = guard

	return nil
}

// Has reports whether a guard is registered under name.
func (r *GuardRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.guards[name]

	return ok
}

// IsIO reports whether the named guard performs I/O.
func (r *GuardRegistry) IsIO(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guard, ok := r.guards[name]

	return ok && guard.io
}

// Names returns the registered guard names, sorted.
func (r *GuardRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.guards))
	for name := range r.guards {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Evaluate runs the named guard. Unknown names return ErrUnknownGuard.
// Evaluation failures are returned as *GuardError alongside false, except
// contract violations which are returned unwrapped.
func (r *GuardRegistry) Evaluate(ctx context.Context, name string, fc *Context) (bool, error) {
	guard, err := r.resolve(name)
	if err != nil {
		return false, err
	}

	return guard.evaluate(ctx, fc)
}

func (r *GuardRegistry) resolve(name string) (*boundGuard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guard, ok := r.guards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGuard, name)
	}

	return guard, nil
}

func (g *boundGuard) evaluate(ctx context.Context, fc *Context) (bool, error) {
	if fc == nil || fc.Event == nil {
		return false, fmt.Errorf("%w: guard %s evaluated without an event", ErrContractViolation, g.name)
	}

	evalCtx := ctx

	if g.io && g.timeout > 0 {
		var cancel context.CancelFunc

		evalCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	passed, err := g.fn(evalCtx, fc)
	if err == nil && g.io && evalCtx.Err() != nil {
		err = evalCtx.Err()
	}

	if err != nil {
		if errors.Is(err, ErrContractViolation) {
			return false, err
		}

		return false, &GuardError{Guard: g.name, Err: err}
	}

	return passed, nil
}
