package validator

import (
	"fmt"
	"strings"

	"github.com/amp-labs/denguebot/statemachine"
)

// ValidationResult contains the results of validating a transition table.
type ValidationResult struct {
	Valid       bool
	Errors      []ValidationError
	Warnings    []ValidationWarning
	Suggestions []Suggestion
}

// ValidationError represents a validation error with fix suggestions.
type ValidationError struct {
	Code     string   // Error code like "UNREACHABLE_STATE", "DUPLICATE_TRANSITION"
	Message  string   // Human-readable error message
	Location Location // Where the error occurred
	Fix      *Fix     // Optional auto-fix suggestion
}

// ValidationWarning represents a non-critical issue.
type ValidationWarning struct {
	Code     string
	Message  string
	Location Location
}

// Suggestion provides improvement recommendations.
type Suggestion struct {
	Message string // Suggestion description
	Example string // Configuration snippet showing the improvement
}

// Location identifies where an issue occurred.
type Location struct {
	File    string // Config file path
	Index   int    // 1-based transition index (0 if not applicable)
	State   string // State name if applicable
	Trigger string // Trigger name if applicable
}

// Validate runs the default rules against a compiled table.
func Validate(table *statemachine.Table) ValidationResult {
	return ValidateWithRules(table, DefaultRules())
}

// ValidateConfig compiles a configuration against a guard registry and
// validates the result. Compilation failures are reported as a single error.
func ValidateConfig(config *statemachine.Config, guards *statemachine.GuardRegistry) ValidationResult {
	table, err := statemachine.NewTable(config, guards)
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Code:    "COMPILE_FAILED",
				Message: err.Error(),
			}},
		}
	}

	return Validate(table)
}

// ValidateConfigWithOptions validates a configuration, treating warnings as
// errors in strict mode.
func ValidateConfigWithOptions(
	config *statemachine.Config,
	guards *statemachine.GuardRegistry,
	strict bool,
) ValidationResult {
	result := ValidateConfig(config, guards)
	if strict {
		result = promoteWarnings(result)
	}

	return result
}

// ValidateFile loads a configuration file and validates it.
func ValidateFile(path string, guards *statemachine.GuardRegistry) (ValidationResult, error) {
	return ValidateFileWithOptions(path, guards, false)
}

// ValidateFileStrict loads a configuration file and validates it in strict mode.
func ValidateFileStrict(path string, guards *statemachine.GuardRegistry) (ValidationResult, error) {
	return ValidateFileWithOptions(path, guards, true)
}

// ValidateFileWithOptions loads a configuration file and validates it with options.
func ValidateFileWithOptions(
	path string,
	guards *statemachine.GuardRegistry,
	strict bool,
) (ValidationResult, error) {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Code:     "CONFIG_LOAD_FAILED",
					Message:  fmt.Sprintf("Failed to load config: %v", err),
					Location: Location{File: path},
				},
			},
		}, err
	}

	result := ValidateConfigWithOptions(config, guards, strict)

	for i := range result.Errors {
		if result.Errors[i].Location.File == "" {
			result.Errors[i].Location.File = path
		}
	}

	for i := range result.Warnings {
		if result.Warnings[i].Location.File == "" {
			result.Warnings[i].Location.File = path
		}
	}

	return result, nil
}

// ValidateWithRules validates using custom rules.
func ValidateWithRules(table *statemachine.Table, rules []Rule) ValidationResult {
	var result ValidationResult

	for _, rule := range rules {
		ruleResult := rule.Check(table)
		result.Errors = append(result.Errors, ruleResult.Errors...)
		result.Warnings = append(result.Warnings, ruleResult.Warnings...)
	}

	result.Valid = len(result.Errors) == 0
	result.Suggestions = generateSuggestions(table)

	return result
}

// ValidateWithRulesStrict validates with strict mode (treats warnings as errors).
func ValidateWithRulesStrict(table *statemachine.Table, rules []Rule) ValidationResult {
	return promoteWarnings(ValidateWithRules(table, rules))
}

func promoteWarnings(result ValidationResult) ValidationResult {
	for _, warning := range result.Warnings {
		result.Errors = append(result.Errors, ValidationError{
			Code:     warning.Code,
			Message:  warning.Message,
			Location: warning.Location,
		})
	}

	result.Warnings = nil
	result.Valid = len(result.Errors) == 0

	return result
}

// Fixes collects the auto-fixes attached to the result's errors.
func (r ValidationResult) Fixes() []*Fix {
	var fixes []*Fix

	for _, err := range r.Errors {
		if err.Fix != nil {
			fixes = append(fixes, err.Fix)
		}
	}

	return fixes
}

// generateSuggestions provides general improvement suggestions.
func generateSuggestions(table *statemachine.Table) []Suggestion {
	var suggestions []Suggestion

	for _, state := range table.States() {
		if !isSnakeCase(state) {
			suggestions = append(suggestions, Suggestion{
				Message: "Consider using snake_case for state names for consistency",
				Example: `states:
  - ask_hospital  # Good
  # instead of: askHospital, AskHospital`,
			})

			break
		}
	}

	// The same trigger leading to the same destination from many sources is
	// easier to maintain as a single wildcard transition.
	const wildcardThreshold = 3

	sources := make(map[string]map[string]bool)

	for _, trans := range table.Config().Transitions {
		if trans.Source == statemachine.AnySource || len(trans.Conditions) > 0 || len(trans.Unless) > 0 {
			continue
		}

		key := trans.Trigger + "->" + trans.Dest
		if sources[key] == nil {
			sources[key] = make(map[string]bool)
		}

		sources[key][trans.Source] = true
	}

	for key, srcs := range sources {
		if len(srcs) >= wildcardThreshold {
			trigger, dest, _ := strings.Cut(key, "->")
			suggestions = append(suggestions, Suggestion{
				Message: fmt.Sprintf("Trigger '%s' leads to '%s' from %d states; consider a wildcard source", trigger, dest, len(srcs)),
				Example: fmt.Sprintf(`transitions:
  - trigger: %s
    source: "*"
    dest: %s`, trigger, dest),
			})
		}
	}

	return suggestions
}

// HasErrors returns true if the result has any errors.
func (r ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if the result has any warnings.
func (r ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of validation results.
func (r ValidationResult) String() string {
	var msg strings.Builder

	if r.Valid {
		msg.WriteString("✓ Configuration is valid")
	} else {
		msg.WriteString(fmt.Sprintf("✗ Configuration has %d error(s)\n", len(r.Errors)))

		for _, err := range r.Errors {
			msg.WriteString(fmt.Sprintf("  [%s] %s%s\n", err.Code, err.Message, err.Location.describe()))
		}
	}

	if len(r.Warnings) > 0 {
		msg.WriteString(fmt.Sprintf("\n⚠ %d warning(s)\n", len(r.Warnings)))

		for _, warn := range r.Warnings {
			msg.WriteString(fmt.Sprintf("  [%s] %s%s\n", warn.Code, warn.Message, warn.Location.describe()))
		}
	}

	return msg.String()
}

func (l Location) describe() string {
	switch {
	case l.State != "" && l.Trigger != "":
		return fmt.Sprintf(" (state: %s, trigger: %s)", l.State, l.Trigger)
	case l.State != "":
		return fmt.Sprintf(" (state: %s)", l.State)
	case l.Trigger != "":
		return fmt.Sprintf(" (trigger: %s)", l.Trigger)
	default:
		return ""
	}
}
