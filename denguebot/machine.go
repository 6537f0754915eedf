package denguebot

import (
	"embed"
	"fmt"

	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/replies"
	"github.com/amp-labs/denguebot/statemachine"
)

// Names of the bundled documents inside Assets.
const (
	AssetFSM        = "assets/fsm.json"
	AssetConditions = "assets/conditions.yaml"
	AssetReplies    = "assets/replies.yaml"
)

// Assets holds the bundled configuration documents.
//
//go:embed assets
var Assets embed.FS

// Documents are the three configuration documents a machine is built from.
type Documents struct {
	FSM        *statemachine.Config
	Conditions *guards.Conditions
	Catalog    *replies.Catalog
}

// BundledDocuments loads the documents shipped with the binary.
func BundledDocuments() (Documents, error) {
	cfg, err := statemachine.LoadConfigFromFS(Assets, AssetFSM)
	if err != nil {
		return Documents{}, err
	}

	conds, err := guards.LoadConditionsFromFS(Assets, AssetConditions)
	if err != nil {
		return Documents{}, err
	}

	catalog, err := replies.LoadFromFS(Assets, AssetReplies)
	if err != nil {
		return Documents{}, err
	}

	return Documents{FSM: cfg, Conditions: conds, Catalog: catalog}, nil
}

// MachineDeps are the collaborators a machine's guards and actions use. The
// catalog comes from the documents and the language resolver of the guards
// is the catalog.
type MachineDeps struct {
	Dependencies

	GuardOptions guards.Options
	BotOptions   []Option
	Options      []statemachine.Option
}

// NewMachine compiles docs into a machine whose actions are the bot's.
func NewMachine(docs Documents, deps MachineDeps) (*statemachine.Machine, error) {
	deps.Catalog = docs.Catalog

	opts := append([]Option{WithReturnTrigger(docs.FSM.ReturnTrigger)}, deps.BotOptions...)

	bot, err := New(deps.Dependencies, opts...)
	if err != nil {
		return nil, err
	}

	guardOpts := deps.GuardOptions
	guardOpts.Languages = docs.Catalog

	registry, err := guards.NewRegistry(docs.Conditions, guardOpts)
	if err != nil {
		return nil, fmt.Errorf("guards: %w", err)
	}

	return statemachine.NewBuilder(docs.FSM).
		WithGuards(registry).
		WithDispatcher(declaredOnly(bot.Dispatcher(), docs.FSM.States)).
		WithCallbacks(bot.Callbacks()).
		WithOptions(deps.Options...).
		Build()
}

// declaredOnly keeps the bindings of declared states, so that a trimmed
// configuration still builds.
func declaredOnly(full *statemachine.Dispatcher, states []string) *statemachine.Dispatcher {
	d := statemachine.NewDispatcher()

	for _, state := range states {
		if enter := full.Actions(state, statemachine.PhaseEnter); len(enter) > 0 {
			d.OnEnter(state, enter...)
		}

		if exit := full.Actions(state, statemachine.PhaseExit); len(exit) > 0 {
			d.OnExit(state, exit...)
		}
	}

	return d
}
