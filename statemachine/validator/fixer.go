// Package validator checks compiled conversation tables for structural
// problems and offers fixes that can be applied to the source configuration.
package validator

import (
	"errors"
	"fmt"

	"github.com/amp-labs/denguebot/statemachine"
)

var (
	// ErrStateNotFound is returned when attempting to change a state that doesn't exist.
	ErrStateNotFound = errors.New("state not found")
	// ErrDuplicateNotFound is returned when attempting to remove a duplicate that doesn't exist.
	ErrDuplicateNotFound = errors.New("duplicate not found")
	// ErrStateAlreadyExists is returned when attempting to rename to an existing state name.
	ErrStateAlreadyExists = errors.New("state already exists")
	// ErrProtectedState is returned when a fix would remove the initial or fallback state.
	ErrProtectedState = errors.New("state is protected")
)

// Fix represents an automatic fix for a validation error.
type Fix struct {
	Description string
	Apply       func(config *statemachine.Config) error
}

// RemoveUnreachableState creates a fix that removes a state together with
// every transition and callback that mentions it.
func RemoveUnreachableState(stateName string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Remove unreachable state '%s'", stateName),
		Apply: func(config *statemachine.Config) error {
			if stateName == config.InitialState || stateName == config.FallbackState {
				return fmt.Errorf("%w: '%s'", ErrProtectedState, stateName)
			}

			newStates := make([]string, 0, len(config.States))
			found := false

			for _, state := range config.States {
				if state == stateName {
					found = true

					continue
				}

				newStates = append(newStates, state)
			}

			if !found {
				return fmt.Errorf("%w: '%s'", ErrStateNotFound, stateName)
			}

			config.States = newStates

			newTransitions := make([]statemachine.TransitionConfig, 0, len(config.Transitions))
			for _, t := range config.Transitions {
				if t.Source != stateName && t.Dest != stateName {
					newTransitions = append(newTransitions, t)
				}
			}

			config.Transitions = newTransitions

			var newCallbacks []statemachine.CallbackConfig

			for _, cb := range config.Callbacks {
				if cb.State != stateName {
					newCallbacks = append(newCallbacks, cb)
				}
			}

			config.Callbacks = newCallbacks

			return nil
		},
	}
}

// RenameState creates a fix that renames a state everywhere it is referenced.
func RenameState(oldName, newName string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Rename state from '%s' to '%s'", oldName, newName),
		Apply: func(config *statemachine.Config) error {
			idx := -1

			for i, state := range config.States {
				if state == newName {
					return fmt.Errorf("%w: '%s'", ErrStateAlreadyExists, newName)
				}

				if state == oldName {
					idx = i
				}
			}

			if idx < 0 {
				return fmt.Errorf("%w: '%s'", ErrStateNotFound, oldName)
			}

			config.States[idx] = newName

			if config.InitialState == oldName {
				config.InitialState = newName
			}

			if config.FallbackState == oldName {
				config.FallbackState = newName
			}

			for i, t := range config.Transitions {
				if t.Source == oldName {
					config.Transitions[i].Source = newName
				}

				if t.Dest == oldName {
					config.Transitions[i].Dest = newName
				}
			}

			for i, cb := range config.Callbacks {
				if cb.State == oldName {
					config.Callbacks[i].State = newName
				}
			}

			return nil
		},
	}
}

// RemoveDuplicateTransition creates a fix that keeps the first occurrence of
// a transition and drops the rest.
func RemoveDuplicateTransition(trans statemachine.TransitionConfig) *Fix {
	key := transitionKey(trans)

	return &Fix{
		Description: fmt.Sprintf("Remove duplicate transition '%s' from '%s' to '%s'", trans.Trigger, trans.Source, trans.Dest),
		Apply: func(config *statemachine.Config) error {
			newTransitions := make([]statemachine.TransitionConfig, 0, len(config.Transitions))
			found := false
			firstOccurrence := true

			for _, t := range config.Transitions {
				if transitionKey(t) != key {
					newTransitions = append(newTransitions, t)

					continue
				}

				if firstOccurrence {
					newTransitions = append(newTransitions, t)
					firstOccurrence = false
				} else {
					found = true
				}
			}

			if !found {
				return ErrDuplicateNotFound
			}

			config.Transitions = newTransitions

			return nil
		},
	}
}

// ApplyFixes applies a list of fixes to a config.
func ApplyFixes(config *statemachine.Config, fixes []*Fix) error {
	for _, fix := range fixes {
		if fix != nil && fix.Apply != nil {
			err := fix.Apply(config)
			if err != nil {
				return fmt.Errorf("failed to apply fix '%s': %w", fix.Description, err)
			}
		}
	}

	return nil
}
