package statemachine

import (
	"errors"
	"fmt"
)

// Predefined error types.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrActionFailed      = errors.New("action execution failed")
	ErrTimeout           = errors.New("action execution timeout")
	ErrTransitionLoop    = errors.New("transition loop detected")
	ErrGuardEvaluation   = errors.New("guard evaluation failed")
	ErrContractViolation = errors.New("event contract violation")

	// ErrStateRequired indicates that at least one state is required.
	ErrStateRequired = fmt.Errorf("%w: at least one state is required", ErrInvalidConfig)
	// ErrStateNameRequired indicates that a state name is required.
	ErrStateNameRequired = fmt.Errorf("%w: state name is required", ErrInvalidConfig)
	// ErrDuplicateStateName indicates that a duplicate state name was found.
	ErrDuplicateStateName = fmt.Errorf("%w: duplicate state name", ErrInvalidConfig)
	// ErrInitialStateNotFound indicates that the initial state does not exist.
	ErrInitialStateNotFound = fmt.Errorf("%w: initial state does not exist", ErrInvalidConfig)
	// ErrUnknownState indicates a reference to a state that was never declared.
	ErrUnknownState = fmt.Errorf("%w: unknown state", ErrInvalidConfig)
	// ErrTriggerRequired indicates that a transition has no trigger.
	ErrTriggerRequired = fmt.Errorf("%w: transition trigger is required", ErrInvalidConfig)
	// ErrTransitionSourceRequired indicates that a transition has no source.
	ErrTransitionSourceRequired = fmt.Errorf("%w: transition source is required", ErrInvalidConfig)
	// ErrTransitionDestRequired indicates that a transition has no destination.
	ErrTransitionDestRequired = fmt.Errorf("%w: transition dest is required", ErrInvalidConfig)
	// ErrReservedTrigger indicates that the fallback and return triggers collide.
	ErrReservedTrigger = fmt.Errorf("%w: fallback and return triggers must differ", ErrInvalidConfig)
	// ErrUnknownGuard indicates a condition that does not resolve against the guard registry.
	ErrUnknownGuard = fmt.Errorf("%w: unknown guard", ErrInvalidConfig)
	// ErrDuplicateGuard indicates that a guard name was registered twice.
	ErrDuplicateGuard = errors.New("guard already registered")
	// ErrUnknownCallbackType indicates a callback whose type has no registered builder.
	ErrUnknownCallbackType = fmt.Errorf("%w: unknown callback type", ErrInvalidConfig)
	// ErrCallbackTemplateRequired indicates a callback that needs a template but has none.
	ErrCallbackTemplateRequired = fmt.Errorf("%w: callback template is required", ErrInvalidConfig)
	// ErrCallbackTriggerRequired indicates a cascade callback without a trigger.
	ErrCallbackTriggerRequired = fmt.Errorf("%w: callback trigger is required", ErrInvalidConfig)
	// ErrNoMachine indicates that a holder was used before any machine was loaded.
	ErrNoMachine = errors.New("no state machine loaded")
)

// StateError wraps an error with state context.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// TransitionError wraps an error with transition context.
type TransitionError struct {
	From    string
	To      string
	Trigger string
	Err     error
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("transition from %s on %s: %v", e.From, e.Trigger, e.Err)
	}

	return fmt.Sprintf("transition %s -> %s on %s: %v", e.From, e.To, e.Trigger, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// GuardError reports a guard that could not be evaluated. It matches both
// ErrGuardEvaluation and the underlying cause.
type GuardError struct {
	Guard string
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s: %v", e.Guard, e.Err)
}

func (e *GuardError) Unwrap() []error {
	return []error{ErrGuardEvaluation, e.Err}
}

// WrapStateError wraps an error with state context.
func WrapStateError(state string, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{
		State: state,
		Err:   err,
	}
}

// WrapTransitionError wraps an error with transition context.
func WrapTransitionError(from, to, trigger string, err error) error {
	if err == nil {
		return nil
	}

	return &TransitionError{
		From:    from,
		To:      to,
		Trigger: trigger,
		Err:     err,
	}
}

// IsActionError reports whether err is a failure the caller recovers from by
// resetting the session: a failed or timed-out action, or a transition loop.
func IsActionError(err error) bool {
	return errors.Is(err, ErrActionFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransitionLoop)
}
