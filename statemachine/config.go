package statemachine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults for the distinguished states and triggers.
const (
	DefaultInitialState    = "user"
	DefaultFallbackState   = "unrecognized_msg"
	DefaultFallbackTrigger = "receive_unrecognized_msg"
	DefaultReturnTrigger   = "handle_unrecognized_msg"

	// AnySource matches every declared state when used as a transition source.
	AnySource = "*"
)

// Config defines the topology of a conversation state machine.
type Config struct {
	Name            string             `json:"name,omitempty"             yaml:"name,omitempty"`
	InitialState    string             `json:"initial,omitempty"          yaml:"initial,omitempty"`
	FallbackState   string             `json:"fallback_state,omitempty"   yaml:"fallback_state,omitempty"`
	FallbackTrigger string             `json:"fallback_trigger,omitempty" yaml:"fallback_trigger,omitempty"`
	ReturnTrigger   string             `json:"return_trigger,omitempty"   yaml:"return_trigger,omitempty"`
	States          []string           `json:"states"                     yaml:"states"`
	Transitions     []TransitionConfig `json:"transitions"                yaml:"transitions"`
	Callbacks       []CallbackConfig   `json:"callbacks,omitempty"        yaml:"callbacks,omitempty"`
}

// TransitionConfig declares one edge. Conditions must all pass and Unless
// guards must all fail for the edge to be taken.
type TransitionConfig struct {
	Trigger    string     `json:"trigger"              yaml:"trigger"`
	Source     string     `json:"source"               yaml:"source"`
	Dest       string     `json:"dest"                 yaml:"dest"`
	Conditions StringList `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Unless     StringList `json:"unless,omitempty"     yaml:"unless,omitempty"`
}

// CallbackConfig declares an entry action built from configuration rather
// than registered in code.
type CallbackConfig struct {
	State    string            `json:"state"              yaml:"state"`
	Type     string            `json:"type"               yaml:"type"`
	Template string            `json:"template,omitempty" yaml:"template,omitempty"`
	Params   map[string]string `json:"params,omitempty"   yaml:"params,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = singleOrEmpty(single)

		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}

	*s = list

	return nil
}

// MarshalJSON implements json.Marshaler. Single-element lists are written as
// a plain string.
func (s StringList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}

	return json.Marshal([]string(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind { //nolint:exhaustive
	case yaml.ScalarNode:
		*s = singleOrEmpty(node.Value)

		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}

		*s = list

		return nil
	default:
		return fmt.Errorf("%w: line %d: expected string or list of strings", ErrInvalidConfig, node.Line)
	}
}

func singleOrEmpty(value string) StringList {
	if value == "" {
		return nil
	}

	return StringList{value}
}

// LoadConfig loads a configuration file. JSON and YAML are both accepted.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromFS loads a configuration from an embedded filesystem.
func LoadConfigFromFS(fsys fs.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS: %w", err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes parses and validates a configuration document. Defaults
// are applied before validation.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON: %w", ErrInvalidConfig, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)

		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidConfig, err)
		}
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyDefaults fills in the distinguished states and triggers and declares
// the fallback sink when the document leaves it out.
func (c *Config) ApplyDefaults() {
	if c.InitialState == "" {
		c.InitialState = DefaultInitialState
	}

	if c.FallbackState == "" {
		c.FallbackState = DefaultFallbackState
	}

	if c.FallbackTrigger == "" {
		c.FallbackTrigger = DefaultFallbackTrigger
	}

	if c.ReturnTrigger == "" {
		c.ReturnTrigger = DefaultReturnTrigger
	}

	if !slices.Contains(c.States, c.FallbackState) {
		c.States = append(c.States, c.FallbackState)
	}
}

// Validate checks the configuration structure. Guard names are resolved
// later, when the transition table is compiled against a registry.
func (c *Config) Validate() error {
	if len(c.States) == 0 {
		return ErrStateRequired
	}

	if c.FallbackTrigger == c.ReturnTrigger {
		return fmt.Errorf("%w: %s", ErrReservedTrigger, c.FallbackTrigger)
	}

	stateNames := make(map[string]bool, len(c.States))

	for _, state := range c.States {
		if state == "" {
			return ErrStateNameRequired
		}

		if state == AnySource {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidConfig, AnySource)
		}

		if stateNames[state] {
			return fmt.Errorf("%w: %s", ErrDuplicateStateName, state)
		}

		stateNames[state] = true
	}

	if !stateNames[c.InitialState] {
		return fmt.Errorf("%w: %s", ErrInitialStateNotFound, c.InitialState)
	}

	if !stateNames[c.FallbackState] {
		return fmt.Errorf("%w: fallback %s", ErrUnknownState, c.FallbackState)
	}

	for idx, trans := range c.Transitions {
		if trans.Trigger == "" {
			return fmt.Errorf("transition %d: %w", idx, ErrTriggerRequired)
		}

		if trans.Source == "" {
			return fmt.Errorf("transition %d: %w", idx, ErrTransitionSourceRequired)
		}

		if trans.Dest == "" {
			return fmt.Errorf("transition %d: %w", idx, ErrTransitionDestRequired)
		}

		if trans.Source != AnySource && !stateNames[trans.Source] {
			return fmt.Errorf("transition %d: %w: source %s", idx, ErrUnknownState, trans.Source)
		}

		if !stateNames[trans.Dest] {
			return fmt.Errorf("transition %d: %w: dest %s", idx, ErrUnknownState, trans.Dest)
		}
	}

	for idx, cb := range c.Callbacks {
		if !stateNames[cb.State] {
			return fmt.Errorf("callback %d: %w: %s", idx, ErrUnknownState, cb.State)
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.States = slices.Clone(c.States)
	out.Transitions = make([]TransitionConfig, len(c.Transitions))

	for i, trans := range c.Transitions {
		trans.Conditions = slices.Clone(trans.Conditions)
		trans.Unless = slices.Clone(trans.Unless)
		out.Transitions[i] = trans
	}

	out.Callbacks = make([]CallbackConfig, len(c.Callbacks))

	for i, cb := range c.Callbacks {
		cb.Params = maps.Clone(cb.Params)
		out.Callbacks[i] = cb
	}

	if len(out.Callbacks) == 0 {
		out.Callbacks = nil
	}

	return &out
}

// MarshalIndentJSON renders the configuration as an indented JSON document.
func (c *Config) MarshalIndentJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
