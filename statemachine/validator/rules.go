//nolint:lll // Long validation messages
package validator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/amp-labs/denguebot/statemachine"
)

// Severity defines the severity level of a validation issue.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// RuleResult contains both errors and warnings from a rule check.
type RuleResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Rule defines a validation rule that can check a table for specific issues.
type Rule interface {
	Name() string
	Severity() Severity
	Check(table *statemachine.Table) RuleResult
}

// DefaultRules returns the standard set of validation rules.
func DefaultRules() []Rule {
	rules := []Rule{
		&unreachableStateRule{},
		&duplicateTransitionRule{},
		&shadowedTransitionRule{},
		&deadEndStateRule{},
		&namingConventionRule{},
	}

	return append(rules, RegisteredRules...)
}

// RegisteredRules stores custom validation rules.
var RegisteredRules []Rule

// RegisterRule adds a custom validation rule.
func RegisterRule(rule Rule) {
	RegisteredRules = append(RegisteredRules, rule)
}

// unreachableStateRule checks for states that cannot be reached from the
// initial state. Implicit routes count, so the fallback sink is always reachable.
type unreachableStateRule struct{}

func (r *unreachableStateRule) Name() string {
	return "UnreachableState"
}

func (r *unreachableStateRule) Severity() Severity {
	return SeverityError
}

func (r *unreachableStateRule) Check(table *statemachine.Table) RuleResult {
	var errors []ValidationError

	graph := make(map[string][]string)
	for _, route := range table.Routes() {
		graph[route.Source] = append(graph[route.Source], route.Dest)
	}

	reachable := map[string]bool{table.InitialState(): true}

	queue := []string{table.InitialState()}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range graph[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, state := range table.States() {
		if !reachable[state] {
			errors = append(errors, ValidationError{
				Code:     "UNREACHABLE_STATE",
				Message:  fmt.Sprintf("State '%s' cannot be reached from initial state '%s'", state, table.InitialState()),
				Location: Location{State: state},
				Fix:      RemoveUnreachableState(state),
			})
		}
	}

	return RuleResult{Errors: errors}
}

// duplicateTransitionRule checks for declared transitions that repeat an
// earlier one exactly.
type duplicateTransitionRule struct{}

func (r *duplicateTransitionRule) Name() string {
	return "DuplicateTransition"
}

func (r *duplicateTransitionRule) Severity() Severity {
	return SeverityError
}

func (r *duplicateTransitionRule) Check(table *statemachine.Table) RuleResult {
	var errors []ValidationError

	seen := make(map[string]bool)

	for i, trans := range table.Config().Transitions {
		key := transitionKey(trans)
		if seen[key] {
			errors = append(errors, ValidationError{
				Code:    "DUPLICATE_TRANSITION",
				Message: fmt.Sprintf("Duplicate transition '%s' from '%s' to '%s'", trans.Trigger, trans.Source, trans.Dest),
				Location: Location{
					State:   trans.Source,
					Trigger: trans.Trigger,
					Index:   i + 1,
				},
				Fix: RemoveDuplicateTransition(trans),
			})
		}

		seen[key] = true
	}

	return RuleResult{Errors: errors}
}

func transitionKey(trans statemachine.TransitionConfig) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		trans.Trigger, trans.Source, trans.Dest,
		strings.Join(trans.Conditions, ","), strings.Join(trans.Unless, ","))
}

// shadowedTransitionRule warns about routes that can never be taken because
// an earlier route for the same source and trigger has no guards.
type shadowedTransitionRule struct{}

func (r *shadowedTransitionRule) Name() string {
	return "ShadowedTransition"
}

func (r *shadowedTransitionRule) Severity() Severity {
	return SeverityWarning
}

func (r *shadowedTransitionRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	for _, state := range table.States() {
		for _, trigger := range table.Triggers() {
			candidates := table.Candidates(state, trigger)

			idx := slices.IndexFunc(candidates, func(route statemachine.Route) bool {
				return len(route.Conditions) == 0 && len(route.Unless) == 0
			})
			if idx < 0 {
				continue
			}

			for _, shadowed := range candidates[idx+1:] {
				if shadowed.Implicit {
					continue
				}

				warnings = append(warnings, ValidationWarning{
					Code: "SHADOWED_TRANSITION",
					Message: fmt.Sprintf("Transition '%s' from '%s' to '%s' is never taken; the unguarded route to '%s' always wins",
						trigger, state, shadowed.Dest, candidates[idx].Dest),
					Location: Location{State: state, Trigger: trigger},
				})
			}
		}
	}

	return RuleResult{Warnings: warnings}
}

// deadEndStateRule warns about states whose only way out is the fallback
// route. A user parked there can only leave by sending unrecognized input.
type deadEndStateRule struct{}

func (r *deadEndStateRule) Name() string {
	return "DeadEndState"
}

func (r *deadEndStateRule) Severity() Severity {
	return SeverityWarning
}

func (r *deadEndStateRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	hasOutgoing := make(map[string]bool)

	for _, route := range table.Routes() {
		if !route.Implicit {
			hasOutgoing[route.Source] = true
		}
	}

	for _, state := range table.States() {
		if state == table.FallbackState() || hasOutgoing[state] {
			continue
		}

		warnings = append(warnings, ValidationWarning{
			Code:     "DEAD_END_STATE",
			Message:  fmt.Sprintf("State '%s' has no declared outgoing transitions", state),
			Location: Location{State: state},
		})
	}

	return RuleResult{Warnings: warnings}
}

// namingConventionRule warns about naming convention violations.
type namingConventionRule struct{}

func (r *namingConventionRule) Name() string {
	return "NamingConvention"
}

func (r *namingConventionRule) Severity() Severity {
	return SeverityWarning
}

func (r *namingConventionRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	for _, state := range table.States() {
		if !isSnakeCase(state) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("State '%s' should use snake_case naming (suggested: '%s')", state, toSnakeCase(state)),
				Location: Location{State: state},
			})
		}
	}

	for _, trigger := range table.Triggers() {
		if !isSnakeCase(trigger) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("Trigger '%s' should use snake_case naming (suggested: '%s')", trigger, toSnakeCase(trigger)),
				Location: Location{Trigger: trigger},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

func isSnakeCase(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return false
		}

		if r == '-' || r == ' ' {
			return false
		}
	}

	return true
}

func toSnakeCase(s string) string {
	var result []rune

	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 && result[len(result)-1] != '_' {
				result = append(result, '_')
			}

			result = append(result, r+('a'-'A'))
		case r == '-' || r == ' ':
			result = append(result, '_')
		default:
			result = append(result, r)
		}
	}

	return string(result)
}
