package statemachine

import (
	"fmt"
	"slices"
)

// Built-in callback types.
const (
	CallbackCascade = "cascade"
)

// CallbackFactory turns configuration-declared callbacks into entry actions.
// Applications register builders for their own callback types.
type CallbackFactory struct {
	builders map[string]CallbackBuilder
}

// CallbackBuilder creates an action from a callback declaration.
type CallbackBuilder func(config CallbackConfig) (Action, error)

// NewCallbackFactory creates a factory with the built-in builders.
func NewCallbackFactory() *CallbackFactory {
	factory := &CallbackFactory{
		builders: make(map[string]CallbackBuilder),
	}

	factory.Register(CallbackCascade, cascadeCallbackBuilder)

	return factory
}

// Register registers a callback builder, replacing any previous one.
func (f *CallbackFactory) Register(callbackType string, builder CallbackBuilder) {
	f.builders[callbackType] = builder
}

// Types returns the registered callback types, sorted.
func (f *CallbackFactory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Create creates an action from a callback declaration.
func (f *CallbackFactory) Create(config CallbackConfig) (Action, error) {
	builder, ok := f.builders[config.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCallbackType, config.Type)
	}

	action, err := builder(config)
	if err != nil {
		return nil, fmt.Errorf("callback %s on %s: %w", config.Type, config.State, err)
	}

	return action, nil
}

func cascadeCallbackBuilder(config CallbackConfig) (Action, error) {
	trigger := config.Params["trigger"]
	if trigger == "" {
		return nil, ErrCallbackTriggerRequired
	}

	return NewCascadeAction(config.State+"_cascade_"+trigger, trigger), nil
}
