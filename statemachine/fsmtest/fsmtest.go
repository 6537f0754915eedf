// Package fsmtest provides fixtures and recording helpers for testing
// conversation state machines.
//
//nolint:varnamelen // Short names idiomatic in test helpers
package fsmtest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// TraceEntry records a single action execution.
type TraceEntry struct {
	State  string
	Phase  statemachine.Phase
	Action string
}

// String implements fmt.Stringer as "phase:state:action".
func (e TraceEntry) String() string {
	return fmt.Sprintf("%s:%s:%s", e.Phase, e.State, e.Action)
}

// Recorder builds actions that record their executions in order.
type Recorder struct {
	mu    sync.Mutex
	trace []TraceEntry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Enter returns an entry action for state that records itself and then
// cascades the given triggers.
func (r *Recorder) Enter(state, name string, cascades ...string) statemachine.Action {
	return r.action(state, statemachine.PhaseEnter, name, nil, cascades...)
}

// Exit returns an exit action for state that records itself.
func (r *Recorder) Exit(state, name string) statemachine.Action {
	return r.action(state, statemachine.PhaseExit, name, nil)
}

// Failing returns an entry action that records itself and fails with err.
func (r *Recorder) Failing(state, name string, err error) statemachine.Action {
	return r.action(state, statemachine.PhaseEnter, name, err)
}

func (r *Recorder) action(
	state string,
	phase statemachine.Phase,
	name string,
	fail error,
	cascades ...string,
) statemachine.Action {
	return statemachine.NewAction(name, func(_ context.Context, fc *statemachine.Context) error {
		r.mu.Lock()
		r.trace = append(r.trace, TraceEntry{State: state, Phase: phase, Action: name})
		r.mu.Unlock()

		if fail != nil {
			return fail
		}

		for _, trigger := range cascades {
			fc.Cascade(trigger)
		}

		return nil
	})
}

// Trace returns a copy of the recorded entries.
func (r *Recorder) Trace() []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.trace)
}

// Names returns the recorded entries rendered as "phase:state:action".
func (r *Recorder) Names() []string {
	trace := r.Trace()
	out := make([]string, 0, len(trace))

	for _, e := range trace {
		out = append(out, e.String())
	}

	return out
}

// Reset clears the recorded entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace = nil
}

// TextEvent creates a text message event.
func TextEvent(userID, text string) *event.Event {
	return &event.Event{
		Kind:       event.KindText,
		UserID:     userID,
		ReplyToken: "reply-" + userID,
		Timestamp:  time.Unix(1_500_000_000, 0),
		Text:       text,
	}
}

// LocationEvent creates a location message event.
func LocationEvent(userID string, lat, lng float64) *event.Event {
	return &event.Event{
		Kind:       event.KindLocation,
		UserID:     userID,
		ReplyToken: "reply-" + userID,
		Timestamp:  time.Unix(1_500_000_000, 0),
		Location:   &event.Location{Latitude: lat, Longitude: lng},
	}
}

// PostbackEvent creates a postback event.
func PostbackEvent(userID, data string) *event.Event {
	return &event.Event{
		Kind:         event.KindPostback,
		UserID:       userID,
		ReplyToken:   "reply-" + userID,
		Timestamp:    time.Unix(1_500_000_000, 0),
		PostbackData: data,
	}
}

// FollowEvent creates a follow event.
func FollowEvent(userID string) *event.Event {
	return &event.Event{
		Kind:       event.KindFollow,
		UserID:     userID,
		ReplyToken: "reply-" + userID,
		Timestamp:  time.Unix(1_500_000_000, 0),
	}
}

// TextIs returns a guard matching an exact message text.
func TextIs(text string) statemachine.Guard {
	return func(_ context.Context, fc *statemachine.Context) (bool, error) {
		return fc.Event.Kind == event.KindText && fc.Event.Text == text, nil
	}
}

// KindIs returns a guard matching an event kind.
func KindIs(kind event.Kind) statemachine.Guard {
	return func(_ context.Context, fc *statemachine.Context) (bool, error) {
		return fc.Event.Kind == kind, nil
	}
}

// Build builds the machine and fails the test on error. Execution hooks log
// to the test log.
func Build(t *testing.T, builder *statemachine.Builder) *statemachine.Machine {
	t.Helper()

	machine, err := builder.
		WithOptions(statemachine.WithLogger(statemachine.NewSlogLogger(slogt.New(t)))).
		Build()
	require.NoError(t, err, "failed to build machine")

	return machine
}

// Fire fires trigger for evt from state and returns the context and result.
func Fire(
	t *testing.T,
	machine *statemachine.Machine,
	state string,
	evt *event.Event,
	trigger string,
) (*statemachine.Context, statemachine.Result, error) {
	t.Helper()

	fc := statemachine.NewContext(evt.UserID, state, evt)
	result, err := machine.Fire(t.Context(), fc, trigger)

	return fc, result, err
}

// RequireState fires and requires success and the given final state.
func RequireState(
	t *testing.T,
	machine *statemachine.Machine,
	state string,
	evt *event.Event,
	trigger string,
	want string,
) statemachine.Result {
	t.Helper()

	_, result, err := Fire(t, machine, state, evt, trigger)
	require.NoError(t, err)
	require.Equal(t, want, result.State, "path: %v", result.Path)

	return result
}
