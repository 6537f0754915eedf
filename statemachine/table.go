package statemachine

import (
	"fmt"
	"slices"
)

// Route is one compiled edge of the transition table.
type Route struct {
	Trigger    string
	Source     string
	Dest       string
	Conditions []string
	Unless     []string
	// Implicit marks edges added by the table itself (fallback and return)
	// rather than declared in configuration.
	Implicit bool
}

type routeKey struct {
	source  string
	trigger string
}

type edge struct {
	route      Route
	conditions []*boundGuard
	unless     []*boundGuard
}

// Table is an immutable, compiled transition table.
type Table struct {
	config *Config
	states []string
	known  map[string]bool
	edges  map[routeKey][]*edge
	routes []Route
}

// NewTable compiles a configuration against a guard registry. Every guard
// name referenced by a transition must be registered.
func NewTable(config *Config, guards *GuardRegistry) (*Table, error) {
	cfg := config.Clone()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if guards == nil {
		guards = NewGuardRegistry()
	}

	table := &Table{
		config: cfg,
		states: slices.Clone(cfg.States),
		known:  make(map[string]bool, len(cfg.States)),
		edges:  make(map[routeKey][]*edge),
	}

	for _, state := range cfg.States {
		table.known[state] = true
	}

	for idx, trans := range cfg.Transitions {
		conditions, err := resolveGuards(guards, trans.Conditions)
		if err != nil {
			return nil, fmt.Errorf("transition %d (%s -> %s): %w", idx, trans.Source, trans.Dest, err)
		}

		unless, err := resolveGuards(guards, trans.Unless)
		if err != nil {
			return nil, fmt.Errorf("transition %d (%s -> %s): %w", idx, trans.Source, trans.Dest, err)
		}

		sources := []string{trans.Source}
		if trans.Source == AnySource {
			sources = cfg.States
		}

		for _, source := range sources {
			table.add(&edge{
				route: Route{
					Trigger:    trans.Trigger,
					Source:     source,
					Dest:       trans.Dest,
					Conditions: slices.Clone([]string(trans.Conditions)),
					Unless:     slices.Clone([]string(trans.Unless)),
				},
				conditions: conditions,
				unless:     unless,
			})
		}
	}

	// Every state, the sink included, can be routed to the sink; the sink
	// returns to the initial state.
	for _, state := range cfg.States {
		table.add(&edge{route: Route{
			Trigger:  cfg.FallbackTrigger,
			Source:   state,
			Dest:     cfg.FallbackState,
			Implicit: true,
		}})
	}

	table.add(&edge{route: Route{
		Trigger:  cfg.ReturnTrigger,
		Source:   cfg.FallbackState,
		Dest:     cfg.InitialState,
		Implicit: true,
	}})

	return table, nil
}

func resolveGuards(registry *GuardRegistry, names []string) ([]*boundGuard, error) {
	if len(names) == 0 {
		return nil, nil
	}

	guards := make([]*boundGuard, 0, len(names))

	for _, name := range names {
		guard, err := registry.resolve(name)
		if err != nil {
			return nil, err
		}

		guards = append(guards, guard)
	}

	return guards, nil
}

func (t *Table) add(e *edge) {
	key := routeKey{source: e.route.Source, trigger: e.route.Trigger}
	t.edges[key] = append(t.edges[key], e)
	t.routes = append(t.routes, e.route)
}

func (t *Table) candidates(state, trigger string) []*edge {
	return t.edges[routeKey{source: state, trigger: trigger}]
}

// Candidates returns the routes leaving state on trigger, in evaluation order.
func (t *Table) Candidates(state, trigger string) []Route {
	edges := t.candidates(state, trigger)
	routes := make([]Route, 0, len(edges))

	for _, e := range edges {
		routes = append(routes, e.route)
	}

	return routes
}

// Routes returns every compiled route: declared routes in declaration order
// (wildcards expanded), followed by the implicit ones.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		r.Conditions = slices.Clone(r.Conditions)
		r.Unless = slices.Clone(r.Unless)
		out[i] = r
	}

	return out
}

// States returns the declared states, the fallback sink included.
func (t *Table) States() []string {
	return slices.Clone(t.states)
}

// HasState reports whether state is declared.
func (t *Table) HasState(state string) bool {
	return t.known[state]
}

// Triggers returns every trigger with at least one route, sorted.
func (t *Table) Triggers() []string {
	var triggers []string

	for _, r := range t.routes {
		if !slices.Contains(triggers, r.Trigger) {
			triggers = append(triggers, r.Trigger)
		}
	}

	slices.Sort(triggers)

	return triggers
}

// InitialState returns the state new sessions start in.
func (t *Table) InitialState() string { return t.config.InitialState }

// FallbackState returns the sink for unrecognized input.
func (t *Table) FallbackState() string { return t.config.FallbackState }

// FallbackTrigger returns the trigger that routes any state to the sink.
func (t *Table) FallbackTrigger() string { return t.config.FallbackTrigger }

// ReturnTrigger returns the trigger that leads from the sink back to the initial state.
func (t *Table) ReturnTrigger() string { return t.config.ReturnTrigger }

// Callbacks returns the configuration-declared callbacks.
func (t *Table) Callbacks() []CallbackConfig {
	return slices.Clone(t.config.Callbacks)
}

// Config exports the declared topology. Implicit routes are left out, so
// loading the result compiles to the same table.
func (t *Table) Config() *Config {
	return t.config.Clone()
}
