package statemachine

import "fmt"

// Builder provides a fluent API for assembling a Machine from a
// configuration, a guard registry, entry and exit actions, and
// configuration-declared callbacks.
type Builder struct {
	config     *Config
	guards     *GuardRegistry
	dispatcher *Dispatcher
	callbacks  *CallbackFactory
	opts       []Option
}

// NewBuilder creates a builder. A nil config starts from an empty one that
// states and transitions can be added to.
func NewBuilder(config *Config) *Builder {
	if config == nil {
		config = &Config{}
	} else {
		config = config.Clone()
	}

	return &Builder{
		config:     config,
		guards:     NewGuardRegistry(),
		dispatcher: NewDispatcher(),
		callbacks:  NewCallbackFactory(),
	}
}

// WithInitialState sets the initial state.
func (b *Builder) WithInitialState(state string) *Builder {
	b.config.InitialState = state

	return b
}

// AddState declares states.
func (b *Builder) AddState(states ...string) *Builder {
	b.config.States = append(b.config.States, states...)

	return b
}

// AddTransition declares a transition after the existing ones.
func (b *Builder) AddTransition(trigger, source, dest string, conditions ...string) *Builder {
	b.config.Transitions = append(b.config.Transitions, TransitionConfig{
		Trigger:    trigger,
		Source:     source,
		Dest:       dest,
		Conditions: conditions,
	})

	return b
}

// AddCallback declares a configuration-style callback.
func (b *Builder) AddCallback(callback CallbackConfig) *Builder {
	b.config.Callbacks = append(b.config.Callbacks, callback)

	return b
}

// WithGuards sets the guard registry transitions are resolved against.
func (b *Builder) WithGuards(guards *GuardRegistry) *Builder {
	b.guards = guards

	return b
}

// WithDispatcher replaces the action bindings.
func (b *Builder) WithDispatcher(dispatcher *Dispatcher) *Builder {
	b.dispatcher = dispatcher.Clone()

	return b
}

// WithCallbacks sets the factory used for configuration-declared callbacks.
func (b *Builder) WithCallbacks(callbacks *CallbackFactory) *Builder {
	b.callbacks = callbacks

	return b
}

// WithOptions adds machine options.
func (b *Builder) WithOptions(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)

	return b
}

// OnEnter binds entry actions.
func (b *Builder) OnEnter(state string, actions ...Action) *Builder {
	b.dispatcher.OnEnter(state, actions...)

	return b
}

// OnExit binds exit actions.
func (b *Builder) OnExit(state string, actions ...Action) *Builder {
	b.dispatcher.OnExit(state, actions...)

	return b
}

// Build compiles the table and binds actions. Callback actions run after any
// entry actions bound in code.
func (b *Builder) Build() (*Machine, error) {
	table, err := NewTable(b.config, b.guards)
	if err != nil {
		return nil, err
	}

	dispatcher := b.dispatcher.Clone()

	for _, callback := range table.Callbacks() {
		action, err := b.callbacks.Create(callback)
		if err != nil {
			return nil, err
		}

		dispatcher.OnEnter(callback.State, action)
	}

	machine, err := NewMachine(table, dispatcher, b.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build machine: %w", err)
	}

	return machine, nil
}
