package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// stateMachineContextKey is the key used to store state machine context in Go context.
const stateMachineContextKey contextKey = "statemachine_context"

// DefaultMaxHops bounds the cascades a single Fire call may perform.
const DefaultMaxHops = 10

// Metric outcome constants.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeNoop    = "noop"
)

// Result describes the outcome of a Fire call.
type Result struct {
	// State is the state the conversation is in after the call.
	State string
	// Fired is true when at least one transition was taken.
	Fired bool
	// Hops counts the cascaded fires performed.
	Hops int
	// Path lists the states entered, in order.
	Path []string
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxHops sets the cascade bound. Values below one are ignored.
func WithMaxHops(hops int) Option {
	return func(m *Machine) {
		if hops > 0 {
			m.maxHops = hops
		}
	}
}

// WithActionTimeout bounds each action. Zero means no bound.
func WithActionTimeout(timeout time.Duration) Option {
	return func(m *Machine) {
		m.actionTimeout = timeout
	}
}

// WithLogger sets the logger used for execution hooks.
func WithLogger(logger Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// Machine executes a compiled table. It holds no per-user state and is safe
// for concurrent use; all conversation state lives in the Context.
type Machine struct {
	table         *Table
	dispatcher    *Dispatcher
	maxHops       int
	actionTimeout time.Duration
	logger        Logger
}

// NewMachine binds a dispatcher to a table. Every state with bound actions
// must be declared in the table.
func NewMachine(table *Table, dispatcher *Dispatcher, opts ...Option) (*Machine, error) {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}

	for _, state := range dispatcher.States() {
		if !table.HasState(state) {
			return nil, fmt.Errorf("action bound to %w: %s", ErrUnknownState, state)
		}
	}

	machine := &Machine{
		table:      table,
		dispatcher: dispatcher.Clone(),
		maxHops:    DefaultMaxHops,
		logger:     NewDefaultLogger(),
	}

	for _, opt := range opts {
		opt(machine)
	}

	return machine, nil
}

// Table returns the compiled table.
func (m *Machine) Table() *Table {
	return m.table
}

// InitialState returns the state new sessions start in.
func (m *Machine) InitialState() string {
	return m.table.InitialState()
}

// MaxHops returns the cascade bound.
func (m *Machine) MaxHops() int {
	return m.maxHops
}

// Fire attempts trigger from the context's current state. Candidates are
// evaluated in declaration order and the first whose guards pass is taken.
// When none pass, any trigger other than the fallback trigger is rerouted to
// the fallback sink. Cascades requested by actions are fired before Fire
// returns.
//
// On error the context state is left at the state whose action failed; the
// caller is expected to reset the session.
func (m *Machine) Fire(ctx context.Context, fc *Context, trigger string) (result Result, err error) {
	ctx, span := startFireSpan(ctx, fc, trigger)
	start := time.Now()

	defer func() {
		outcome := outcomeSuccess

		switch {
		case err != nil:
			outcome = outcomeError

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !result.Fired:
			outcome = outcomeNoop

			span.SetStatus(codes.Ok, "no transition")
		default:
			span.SetStatus(codes.Ok, "completed")
		}

		span.SetAttributes(
			attribute.String("final_state", result.State),
			attribute.Int("hops", result.Hops),
		)
		span.End()

		firesTotal.WithLabelValues(trigger, outcome).Inc()
		fireDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		cascadeHops.Observe(float64(result.Hops))

		if m.logger != nil {
			m.logger.FireCompleted(ctx, trigger, result, time.Since(start), err)
		}
	}()

	if fc == nil || fc.Event == nil {
		return Result{}, fmt.Errorf("%w: fire requires a context with an event", ErrContractViolation)
	}

	if !m.table.HasState(fc.CurrentState()) {
		return Result{State: fc.CurrentState()}, WrapStateError(fc.CurrentState(), ErrUnknownState)
	}

	ctx = context.WithValue(ctx, stateMachineContextKey, fc)

	run := &firing{
		machine: m,
		fc:      fc,
		entered: make(map[string]bool),
	}

	fired, err := run.fire(ctx, trigger, 0)

	return Result{
		State: fc.CurrentState(),
		Fired: fired,
		Hops:  run.hops,
		Path:  fc.PathHistory(),
	}, err
}

// firing tracks one Fire call: the cascade count and the states entered.
type firing struct {
	machine *Machine
	fc      *Context
	hops    int
	entered map[string]bool
}

func (f *firing) fire(ctx context.Context, trigger string, depth int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, WrapStateError(f.fc.CurrentState(), err)
	}

	source := f.fc.CurrentState()

	chosen, err := f.choose(ctx, source, trigger)
	if err != nil {
		return false, err
	}

	table := f.machine.table
	if chosen == nil && trigger != table.FallbackTrigger() {
		chosen, err = f.choose(ctx, source, table.FallbackTrigger())
		if err != nil {
			return false, err
		}

		if chosen != nil {
			trigger = table.FallbackTrigger()
		}
	}

	if chosen == nil {
		return false, nil
	}

	return true, f.transition(ctx, chosen.route, trigger, depth)
}

// choose returns the first candidate whose guards pass.
func (f *firing) choose(ctx context.Context, state, trigger string) (*edge, error) {
	for _, candidate := range f.machine.table.candidates(state, trigger) {
		ok, err := f.passes(ctx, candidate)
		if err != nil {
			return nil, WrapTransitionError(state, candidate.route.Dest, trigger, err)
		}

		if ok {
			return candidate, nil
		}
	}

	return nil, nil //nolint:nilnil
}

// passes evaluates the candidate's guards. Data the guards store is rolled
// back unless the candidate is taken.
func (f *firing) passes(ctx context.Context, candidate *edge) (bool, error) {
	saved := f.fc.snapshotData()

	ok, err := f.guardsPass(ctx, candidate)
	if err != nil || !ok {
		f.fc.restoreData(saved)
	}

	return ok, err
}

func (f *firing) guardsPass(ctx context.Context, candidate *edge) (bool, error) {
	for _, guard := range candidate.conditions {
		ok, err := f.evaluate(ctx, guard)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	for _, guard := range candidate.unless {
		ok, err := f.evaluate(ctx, guard)
		if err != nil {
			return false, err
		}

		if ok {
			return false, nil
		}
	}

	return true, nil
}

// evaluate runs a guard. Evaluation failures are logged and count as false;
// contract violations are returned.
func (f *firing) evaluate(ctx context.Context, guard *boundGuard) (bool, error) {
	passed, err := guard.evaluate(ctx, f.fc)

	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		guardEvaluations.WithLabelValues(guard.name, "error").Inc()

		if f.machine.logger != nil {
			f.machine.logger.GuardFailed(ctx, guard.name, err)
		}

		return false, nil
	}

	if err != nil {
		return false, err
	}

	guardEvaluations.WithLabelValues(guard.name, guardOutcome(passed)).Inc()

	return passed, nil
}

func (f *firing) transition(ctx context.Context, route Route, trigger string, depth int) error {
	source := route.Source
	dest := route.Dest

	if depth > 0 && f.entered[dest] {
		return WrapTransitionError(source, dest, trigger,
			fmt.Errorf("%w: %s re-entered within one request", ErrTransitionLoop, dest))
	}

	ctx, span := startTransitionSpan(ctx, source, dest, trigger, depth)
	defer span.End()

	if err := f.runActions(ctx, source, PhaseExit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	f.fc.setState(dest)
	f.fc.AddTransition(source, dest, trigger)
	f.entered[dest] = true

	transitionsTotal.WithLabelValues(source, dest, trigger).Inc()

	if f.machine.logger != nil {
		f.machine.logger.TransitionExecuted(ctx, source, dest, trigger)
	}

	if err := f.runActions(ctx, dest, PhaseEnter); err != nil {
		f.fc.dropCascades()
		f.fc.setState(source)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	span.SetStatus(codes.Ok, "completed")

	for _, next := range f.fc.takeCascades() {
		f.hops++

		if f.hops > f.machine.maxHops {
			return WrapStateError(f.fc.CurrentState(),
				fmt.Errorf("%w: more than %d cascades", ErrTransitionLoop, f.machine.maxHops))
		}

		if _, err := f.fire(ctx, next, depth+1); err != nil {
			return err
		}
	}

	return nil
}

func (f *firing) runActions(ctx context.Context, state string, phase Phase) error {
	for _, action := range f.machine.dispatcher.Actions(state, phase) {
		if err := f.runAction(ctx, state, phase, action); err != nil {
			return WrapStateError(state, fmt.Errorf("%w: %s %s: %w", ErrActionFailed, phase, action.Name(), err))
		}
	}

	return nil
}

func (f *firing) runAction(ctx context.Context, state string, phase Phase, action Action) error {
	execCtx := ctx

	if f.machine.actionTimeout > 0 {
		var cancel context.CancelFunc

		execCtx, cancel = context.WithTimeout(ctx, f.machine.actionTimeout)
		defer cancel()
	}

	execCtx, span := startActionSpan(execCtx, action.Name(), state, phase)
	defer span.End()

	if f.machine.logger != nil {
		f.machine.logger.ActionStarted(execCtx, action.Name())
	}

	start := time.Now()
	err := action.Execute(execCtx, f.fc)
	duration := time.Since(start)

	if err == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}

	span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "completed")
	}

	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}

	actionDuration.WithLabelValues(action.Name(), state, string(phase), outcome).Observe(duration.Seconds())

	if f.machine.logger != nil {
		f.machine.logger.ActionCompleted(execCtx, action.Name(), duration, err)
	}

	return err
}

func guardOutcome(passed bool) string {
	if passed {
		return "pass"
	}

	return "fail"
}
