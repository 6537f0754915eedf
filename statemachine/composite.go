package statemachine

import (
	"context"
	"fmt"
)

// SequenceAction runs its steps in order and stops at the first failure.
// Steps share the firing context, so a step's cascade is queued behind the
// cascades of the steps before it.
type SequenceAction struct {
	BaseAction

	steps []Action
}

// NewSequenceAction creates a sequence of steps.
func NewSequenceAction(name string, steps ...Action) *SequenceAction {
	return &SequenceAction{
		BaseAction: BaseAction{name: name},
		steps:      steps,
	}
}

func (a *SequenceAction) Execute(ctx context.Context, fc *Context) error {
	for _, step := range a.steps {
		if err := step.Execute(ctx, fc); err != nil {
			return fmt.Errorf("step %s: %w", step.Name(), err)
		}
	}

	return nil
}

// Steps returns the names of the steps, in order.
func (a *SequenceAction) Steps() []string {
	names := make([]string, len(a.steps))
	for i, step := range a.steps {
		names[i] = step.Name()
	}

	return names
}
