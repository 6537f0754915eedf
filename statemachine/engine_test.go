package statemachine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/quick"
	"time"

	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/fsmtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// menuBuilder returns a small conversation: the user can ask about dengue
// (answered immediately) or ask for a hospital (answered on the next message).
func menuBuilder(t *testing.T, rec *fsmtest.Recorder) *statemachine.Builder {
	t.Helper()

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("is_asking_dengue_fever", fsmtest.TextIs("登革熱"))
	guards.MustRegister("is_selecting_ask_dengue_fever", fsmtest.TextIs("1"))
	guards.MustRegister("is_asking_hospital", fsmtest.TextIs("醫院"))
	guards.MustRegister("is_location", fsmtest.KindIs(event.KindLocation))
	guards.MustRegister("is_sticker", fsmtest.KindIs(event.KindSticker))

	return statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "ask_dengue_fever", "ask_hospital", "receive_user_location").
		AddTransition("advance", "user", "ask_dengue_fever", "is_asking_dengue_fever").
		AddTransition("advance", "user", "ask_dengue_fever", "is_selecting_ask_dengue_fever").
		AddTransition("advance", "user", "ask_hospital", "is_asking_hospital").
		AddTransition("advance", "ask_hospital", "receive_user_location", "is_location").
		AddTransition("finish_ans", "ask_dengue_fever", "user").
		AddTransition("finish_ans", "receive_user_location", "user").
		OnEnter("ask_dengue_fever", rec.Enter("ask_dengue_fever", "reply_info", "finish_ans")).
		OnEnter("ask_hospital", rec.Enter("ask_hospital", "ask_location")).
		OnExit("ask_hospital", rec.Exit("ask_hospital", "leave_hospital")).
		OnEnter("receive_user_location", rec.Enter("receive_user_location", "reply_nearby", "finish_ans")).
		OnEnter(statemachine.DefaultFallbackState,
			rec.Enter(statemachine.DefaultFallbackState, "record_unrecognized", statemachine.DefaultReturnTrigger))
}

func TestFireCascadeReturnsToInitial(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	machine := fsmtest.Build(t, menuBuilder(t, rec))

	result := fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "登革熱"), "advance", "user")

	assert.True(t, result.Fired)
	assert.Equal(t, 1, result.Hops)
	assert.Equal(t, []string{"ask_dengue_fever", "user"}, result.Path)
	assert.Equal(t, []string{"enter:ask_dengue_fever:reply_info"}, rec.Names())
}

func TestFireDropsDataOfRejectedRoute(t *testing.T) {
	t.Parallel()

	stash := func(value string) statemachine.Guard {
		return func(_ context.Context, fc *statemachine.Context) (bool, error) {
			fc.Set("point", value)

			return true, nil
		}
	}

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("stash_first", stash("first"))
	guards.MustRegister("stash_second", stash("second"))
	guards.MustRegister("is_hello", fsmtest.TextIs("hello"))

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "first", "second", "third").
		AddTransition("advance", "user", "first", "stash_first", "is_hello").
		AddTransition("advance", "user", "second", "is_hello", "stash_second").
		AddTransition("advance", "user", "third"))

	fc := statemachine.NewContext("U1", "user", fsmtest.TextEvent("U1", "bye"))

	result, err := machine.Fire(t.Context(), fc, "advance")
	require.NoError(t, err)
	assert.Equal(t, "third", result.State)

	_, found := fc.Get("point")
	assert.False(t, found)

	fc = statemachine.NewContext("U1", "user", fsmtest.TextEvent("U1", "hello"))

	result, err = machine.Fire(t.Context(), fc, "advance")
	require.NoError(t, err)
	assert.Equal(t, "first", result.State)

	point, _ := fc.GetString("point")
	assert.Equal(t, "first", point)
}

func TestFireFirstPassingGuardWins(t *testing.T) {
	t.Parallel()

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("is_hello", fsmtest.TextIs("hello"))
	guards.MustRegister("always", func(context.Context, *statemachine.Context) (bool, error) { return true, nil })

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "first", "second", "third").
		AddTransition("advance", "user", "first", "is_hello").
		AddTransition("advance", "user", "second", "always").
		AddTransition("advance", "user", "third"))

	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "hello"), "advance", "first")
	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "bye"), "advance", "second")
}

func TestFireUnlessGuards(t *testing.T) {
	t.Parallel()

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("is_text", fsmtest.KindIs(event.KindText))
	guards.MustRegister("is_secret", fsmtest.TextIs("secret"))

	config := &statemachine.Config{
		States: []string{"user", "wait_user_suggestion"},
		Transitions: []statemachine.TransitionConfig{
			{
				Trigger:    "advance",
				Source:     "user",
				Dest:       "wait_user_suggestion",
				Conditions: statemachine.StringList{"is_text"},
				Unless:     statemachine.StringList{"is_secret"},
			},
		},
	}

	machine := fsmtest.Build(t, statemachine.NewBuilder(config).WithGuards(guards))

	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "hi"), "advance", "wait_user_suggestion")
	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "secret"), "advance",
		statemachine.DefaultFallbackState)
}

func TestFireExitRunsBeforeEnter(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	machine := fsmtest.Build(t, menuBuilder(t, rec))

	fsmtest.RequireState(t, machine, "ask_hospital", fsmtest.LocationEvent("U1", 22.99, 120.21), "advance", "user")

	assert.Equal(t, []string{
		"exit:ask_hospital:leave_hospital",
		"enter:receive_user_location:reply_nearby",
	}, rec.Names())
}

func TestFireUnmatchedGoesToSinkAndBack(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	machine := fsmtest.Build(t, menuBuilder(t, rec))

	result := fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "???"), "advance", "user")

	assert.True(t, result.Fired)
	assert.Equal(t, 1, result.Hops)
	assert.Equal(t, []string{statemachine.DefaultFallbackState, "user"}, result.Path)
	assert.Equal(t, []string{"enter:unrecognized_msg:record_unrecognized"}, rec.Names())
}

func TestFireUndeclaredTriggerLandsOnSink(t *testing.T) {
	t.Parallel()

	// Without actions on the sink the fallback is observable directly.
	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("is_hello", fsmtest.TextIs("hello"))

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "ask_a", "ask_b").
		AddTransition("advance", "user", "ask_a", "is_hello").
		AddTransition("advance", "ask_a", "ask_b", "is_hello"))

	states := machine.Table().States()
	triggers := []string{"advance", "finish_ans", "nonsense", statemachine.DefaultFallbackTrigger}

	for _, state := range states {
		for _, trigger := range triggers {
			result := fsmtest.RequireState(t, machine, state, fsmtest.TextEvent("U1", "nope"), trigger,
				statemachine.DefaultFallbackState)
			assert.True(t, result.Fired, "%s/%s", state, trigger)
		}
	}

	fsmtest.RequireState(t, machine, statemachine.DefaultFallbackState, fsmtest.TextEvent("U1", "x"),
		statemachine.DefaultReturnTrigger, "user")
}

func TestFireActionFailureKeepsSource(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	builder := menuBuilder(t, rec).
		OnEnter("receive_user_location", rec.Failing("receive_user_location", "explode", errBoom))
	machine := fsmtest.Build(t, builder)

	fc, _, err := fsmtest.Fire(t, machine, "ask_hospital", fsmtest.LocationEvent("U1", 1, 2), "advance")

	require.ErrorIs(t, err, statemachine.ErrActionFailed)
	require.ErrorIs(t, err, errBoom)
	assert.True(t, statemachine.IsActionError(err))

	var stateErr *statemachine.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "receive_user_location", stateErr.State)

	// The exit action already ran and is not rolled back; the state is not applied.
	assert.Equal(t, "ask_hospital", fc.CurrentState())
	assert.Equal(t, []string{
		"exit:ask_hospital:leave_hospital",
		"enter:receive_user_location:reply_nearby",
		"enter:receive_user_location:explode",
	}, rec.Names())
	assert.Empty(t, fc.PendingCascades())
}

func TestFireActionTimeout(t *testing.T) {
	t.Parallel()

	slow := statemachine.NewAction("slow", func(context.Context, *statemachine.Context) error {
		time.Sleep(50 * time.Millisecond)

		return nil
	})

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		AddState("user", "ask").
		AddTransition("advance", "user", "ask").
		OnEnter("ask", slow).
		WithOptions(statemachine.WithActionTimeout(5*time.Millisecond)))

	_, _, err := fsmtest.Fire(t, machine, "user", fsmtest.TextEvent("U1", "x"), "advance")
	require.ErrorIs(t, err, statemachine.ErrTimeout)
	assert.True(t, statemachine.IsActionError(err))
}

func TestFireCycleGuard(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		AddState("user", "ping", "pong").
		AddTransition("advance", "user", "ping").
		AddTransition("next", "ping", "pong").
		AddTransition("next", "pong", "ping").
		OnEnter("ping", rec.Enter("ping", "ping", "next")).
		OnEnter("pong", rec.Enter("pong", "pong", "next")))

	_, result, err := fsmtest.Fire(t, machine, "user", fsmtest.TextEvent("U1", "x"), "advance")
	require.ErrorIs(t, err, statemachine.ErrTransitionLoop)
	assert.Equal(t, 2, result.Hops)
	assert.Equal(t, []string{"enter:ping:ping", "enter:pong:pong"}, rec.Names())
}

func TestFireHopBound(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	builder := statemachine.NewBuilder(nil).
		AddState("user", "s1", "s2", "s3", "s4").
		AddTransition("advance", "user", "s1").
		AddTransition("next", "s1", "s2").
		AddTransition("next", "s2", "s3").
		AddTransition("next", "s3", "s4").
		OnEnter("s1", rec.Enter("s1", "a", "next")).
		OnEnter("s2", rec.Enter("s2", "a", "next")).
		OnEnter("s3", rec.Enter("s3", "a", "next")).
		WithOptions(statemachine.WithMaxHops(2))

	machine := fsmtest.Build(t, builder)
	assert.Equal(t, 2, machine.MaxHops())

	_, result, err := fsmtest.Fire(t, machine, "user", fsmtest.TextEvent("U1", "x"), "advance")
	require.ErrorIs(t, err, statemachine.ErrTransitionLoop)
	assert.Equal(t, 3, result.Hops)
	assert.False(t, errors.Is(err, statemachine.ErrActionFailed))
	assert.True(t, statemachine.IsActionError(err))
}

func TestFireGuardIOErrorEvaluatesFalse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	guards := statemachine.NewGuardRegistry()
	require.NoError(t, guards.RegisterIO("is_valid_address", time.Second,
		func(context.Context, *statemachine.Context) (bool, error) {
			calls.Add(1)

			return true, errBoom
		}))
	require.NoError(t, guards.RegisterIO("is_slow_lookup", 5*time.Millisecond,
		func(ctx context.Context, _ *statemachine.Context) (bool, error) {
			<-ctx.Done()

			return true, ctx.Err()
		}))

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "receive_user_address", "slow", "other").
		AddTransition("advance", "user", "receive_user_address", "is_valid_address").
		AddTransition("advance", "user", "slow", "is_slow_lookup").
		AddTransition("advance", "user", "other"))

	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "No.1 Road"), "advance", "other")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFireContractViolationPropagates(t *testing.T) {
	t.Parallel()

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("needs_user", func(_ context.Context, fc *statemachine.Context) (bool, error) {
		if fc.Event.UserID == "" {
			return false, statemachine.ErrContractViolation
		}

		return true, nil
	})

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		WithGuards(guards).
		AddState("user", "next").
		AddTransition("advance", "user", "next", "needs_user"))

	_, _, err := fsmtest.Fire(t, machine, "user", fsmtest.TextEvent("", "x"), "advance")
	require.ErrorIs(t, err, statemachine.ErrContractViolation)

	_, err = machine.Fire(t.Context(), statemachine.NewContext("U1", "user", nil), "advance")
	require.ErrorIs(t, err, statemachine.ErrContractViolation)
}

func TestFireCancelledContext(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	machine := fsmtest.Build(t, menuBuilder(t, rec))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fc := statemachine.NewContext("U1", "user", fsmtest.TextEvent("U1", "登革熱"))
	_, err := machine.Fire(ctx, fc, "advance")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "user", fc.CurrentState())
	assert.Empty(t, rec.Names())
}

func TestFireUnknownCurrentState(t *testing.T) {
	t.Parallel()

	machine := fsmtest.Build(t, menuBuilder(t, fsmtest.NewRecorder()))

	_, _, err := fsmtest.Fire(t, machine, "retired_state", fsmtest.TextEvent("U1", "x"), "advance")
	require.ErrorIs(t, err, statemachine.ErrUnknownState)
}

func TestFireFallbackMayBeInitialState(t *testing.T) {
	t.Parallel()

	guards := statemachine.NewGuardRegistry()
	guards.MustRegister("is_hello", fsmtest.TextIs("hello"))

	config := &statemachine.Config{
		States:        []string{"user"},
		FallbackState: "user",
	}

	machine := fsmtest.Build(t, statemachine.NewBuilder(config).WithGuards(guards))

	result := fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "x"), "advance", "user")
	assert.True(t, result.Fired)
}

func TestFireDeterministic(t *testing.T) {
	t.Parallel()

	machine := fsmtest.Build(t, menuBuilder(t, fsmtest.NewRecorder()))
	states := machine.Table().States()
	texts := []string{"登革熱", "1", "醫院", "hello", ""}

	property := func(stateIdx, textIdx uint8, location bool) bool {
		state := states[int(stateIdx)%len(states)]

		evt := fsmtest.TextEvent("U1", texts[int(textIdx)%len(texts)])
		if location {
			evt = fsmtest.LocationEvent("U1", 22.9, 120.2)
		}

		first := statemachine.NewContext("U1", state, evt)
		second := statemachine.NewContext("U1", state, evt)

		r1, err1 := machine.Fire(t.Context(), first, "advance")
		r2, err2 := machine.Fire(t.Context(), second, "advance")

		return err1 == nil && err2 == nil &&
			r1.State == r2.State &&
			r1.Hops == r2.Hops &&
			len(r1.Path) == len(r2.Path)
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 200}))
}

func TestBuildRejectsActionsOnUnknownState(t *testing.T) {
	t.Parallel()

	_, err := statemachine.NewBuilder(nil).
		AddState("user").
		OnEnter("ghost", statemachine.NewCascadeAction("c", "advance")).
		Build()
	require.ErrorIs(t, err, statemachine.ErrUnknownState)
}

func TestBuildCallbacks(t *testing.T) {
	t.Parallel()

	machine := fsmtest.Build(t, statemachine.NewBuilder(nil).
		AddState("user", "greeting").
		AddTransition("advance", "user", "greeting").
		AddTransition("finish_ans", "greeting", "user").
		AddCallback(statemachine.CallbackConfig{
			State:  "greeting",
			Type:   statemachine.CallbackCascade,
			Params: map[string]string{"trigger": "finish_ans"},
		}))

	result := fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "hi"), "advance", "user")
	assert.Equal(t, []string{"greeting", "user"}, result.Path)

	_, err := statemachine.NewBuilder(nil).
		AddState("user").
		AddCallback(statemachine.CallbackConfig{State: "user", Type: "text-finish"}).
		Build()
	require.ErrorIs(t, err, statemachine.ErrUnknownCallbackType)

	_, err = statemachine.NewBuilder(nil).
		AddState("user").
		AddCallback(statemachine.CallbackConfig{State: "user", Type: statemachine.CallbackCascade}).
		Build()
	require.ErrorIs(t, err, statemachine.ErrCallbackTriggerRequired)
}

//nolint:paralleltest // Reads global Prometheus metrics
func TestFireRecordsMetrics(t *testing.T) {
	machine := fsmtest.Build(t, menuBuilder(t, fsmtest.NewRecorder()))

	fsmtest.RequireState(t, machine, "user", fsmtest.TextEvent("U1", "登革熱"), "advance", "user")

	assert.Positive(t, testutil.CollectAndCount(statemachine.FiresTotalCollector()))
}
