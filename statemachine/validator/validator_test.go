//nolint:varnamelen // Test file
package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/amp-labs/denguebot/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(result ValidationResult) []string {
	var out []string

	for _, err := range result.Errors {
		out = append(out, err.Code)
	}

	return out
}

func warningCodes(result ValidationResult) []string {
	var out []string

	for _, warn := range result.Warnings {
		out = append(out, warn.Code)
	}

	return out
}

func testGuards(t *testing.T) *statemachine.GuardRegistry {
	t.Helper()

	guards := statemachine.NewGuardRegistry()
	require.NoError(t, guards.Register("is_yes", func(context.Context, *statemachine.Context) (bool, error) {
		return true, nil
	}))

	return guards
}

func loopConfig() *statemachine.Config {
	return &statemachine.Config{
		States: []string{"user", "ask", "done"},
		Transitions: []statemachine.TransitionConfig{
			{Trigger: "advance", Source: "user", Dest: "ask"},
			{Trigger: "answer", Source: "ask", Dest: "done"},
			{Trigger: "restart", Source: "done", Dest: "user"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*statemachine.Config)
		wantValid    bool
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:      "valid loop",
			mutate:    func(*statemachine.Config) {},
			wantValid: true,
		},
		{
			name: "unreachable state",
			mutate: func(c *statemachine.Config) {
				c.States = append(c.States, "orphan")
				c.Transitions = append(c.Transitions, statemachine.TransitionConfig{
					Trigger: "advance", Source: "orphan", Dest: "user",
				})
			},
			wantValid:  false,
			wantErrors: []string{"UNREACHABLE_STATE"},
		},
		{
			name: "duplicate transition",
			mutate: func(c *statemachine.Config) {
				c.Transitions = append(c.Transitions, c.Transitions[0])
			},
			wantValid:    false,
			wantErrors:   []string{"DUPLICATE_TRANSITION"},
			wantWarnings: []string{"SHADOWED_TRANSITION"},
		},
		{
			name: "shadowed transition",
			mutate: func(c *statemachine.Config) {
				c.Transitions = append(c.Transitions, statemachine.TransitionConfig{
					Trigger: "advance", Source: "user", Dest: "done", Conditions: statemachine.StringList{"is_yes"},
				})
			},
			wantValid:    true,
			wantWarnings: []string{"SHADOWED_TRANSITION"},
		},
		{
			name: "dead end state",
			mutate: func(c *statemachine.Config) {
				c.Transitions = c.Transitions[:2]
			},
			wantValid:    true,
			wantWarnings: []string{"DEAD_END_STATE"},
		},
		{
			name: "naming convention",
			mutate: func(c *statemachine.Config) {
				c.States = append(c.States, "askAgain")
				c.Transitions = append(c.Transitions,
					statemachine.TransitionConfig{Trigger: "again", Source: "done", Dest: "askAgain"},
					statemachine.TransitionConfig{Trigger: "restart", Source: "askAgain", Dest: "user"},
				)
			},
			wantValid:    true,
			wantWarnings: []string{"NAMING_CONVENTION"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := loopConfig()
			tt.mutate(config)

			result := ValidateConfig(config, testGuards(t))

			assert.Equal(t, tt.wantValid, result.Valid, result.String())
			assert.Equal(t, tt.wantErrors, codes(result))
			assert.Equal(t, tt.wantWarnings, warningCodes(result))
		})
	}
}

func TestValidateConfigCompileFailure(t *testing.T) {
	t.Parallel()

	config := loopConfig()
	config.Transitions[0].Conditions = statemachine.StringList{"is_missing"}

	result := ValidateConfig(config, statemachine.NewGuardRegistry())

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"COMPILE_FAILED"}, codes(result))
	assert.Contains(t, result.Errors[0].Message, "is_missing")
}

func TestNamingConventionSuggestion(t *testing.T) {
	t.Parallel()

	config := &statemachine.Config{
		States: []string{"user", "askHospital"},
		Transitions: []statemachine.TransitionConfig{
			{Trigger: "advance", Source: "user", Dest: "askHospital"},
			{Trigger: "go_back", Source: "askHospital", Dest: "user"},
		},
	}

	result := ValidateConfig(config, nil)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "ask_hospital")
	require.NotEmpty(t, result.Suggestions)
	assert.Contains(t, result.Suggestions[0].Message, "snake_case")
}

func TestWildcardSuggestion(t *testing.T) {
	t.Parallel()

	config := &statemachine.Config{
		States: []string{"user", "a", "b", "c"},
		Transitions: []statemachine.TransitionConfig{
			{Trigger: "advance", Source: "user", Dest: "a"},
			{Trigger: "next", Source: "a", Dest: "b"},
			{Trigger: "next", Source: "b", Dest: "c"},
			{Trigger: "go_back", Source: "a", Dest: "user"},
			{Trigger: "go_back", Source: "b", Dest: "user"},
			{Trigger: "go_back", Source: "c", Dest: "user"},
		},
	}

	result := ValidateConfig(config, nil)

	require.True(t, result.Valid, result.String())
	require.Len(t, result.Suggestions, 1)
	assert.Contains(t, result.Suggestions[0].Message, "go_back")
	assert.Contains(t, result.Suggestions[0].Example, `source: "*"`)
}

func TestFallbackSinkIsReachable(t *testing.T) {
	t.Parallel()

	table, err := statemachine.NewTable(loopConfig(), nil)
	require.NoError(t, err)

	result := ValidateWithRules(table, []Rule{&unreachableStateRule{}, &deadEndStateRule{}})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Warnings)
}

func TestValidateWithRulesStrict(t *testing.T) {
	t.Parallel()

	config := loopConfig()
	config.Transitions = config.Transitions[:2]

	table, err := statemachine.NewTable(config, nil)
	require.NoError(t, err)

	result := ValidateWithRulesStrict(table, DefaultRules())

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"DEAD_END_STATE"}, codes(result))
	assert.Empty(t, result.Warnings)
}

func TestApplyFixes(t *testing.T) {
	t.Parallel()

	config := loopConfig()
	config.States = append(config.States, "orphan")
	config.Transitions = append(config.Transitions,
		config.Transitions[1],
		statemachine.TransitionConfig{Trigger: "advance", Source: "orphan", Dest: "user"},
	)
	config.Callbacks = []statemachine.CallbackConfig{
		{State: "orphan", Type: statemachine.CallbackCascade, Params: map[string]string{"trigger": "advance"}},
	}

	result := ValidateConfig(config, nil)
	require.False(t, result.Valid)
	require.Len(t, result.Fixes(), 2)

	require.NoError(t, ApplyFixes(config, result.Fixes()))

	fixed := ValidateConfig(config, nil)
	assert.True(t, fixed.Valid, fixed.String())
	assert.NotContains(t, config.States, "orphan")
	assert.Empty(t, config.Callbacks)
	assert.Len(t, config.Transitions, 3)
}

func TestRemoveUnreachableStateProtectsInitial(t *testing.T) {
	t.Parallel()

	config := loopConfig()
	config.ApplyDefaults()

	err := RemoveUnreachableState("user").Apply(config)
	require.ErrorIs(t, err, ErrProtectedState)

	err = RemoveUnreachableState("missing").Apply(config)
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestRenameState(t *testing.T) {
	t.Parallel()

	config := loopConfig()
	config.Callbacks = []statemachine.CallbackConfig{{State: "ask", Type: "text-finish", Template: "ask"}}

	require.NoError(t, RenameState("ask", "ask_question").Apply(config))

	assert.Equal(t, []string{"user", "ask_question", "done"}, config.States)
	assert.Equal(t, "ask_question", config.Transitions[0].Dest)
	assert.Equal(t, "ask_question", config.Transitions[1].Source)
	assert.Equal(t, "ask_question", config.Callbacks[0].State)

	require.ErrorIs(t, RenameState("done", "user").Apply(config), ErrStateAlreadyExists)
	require.ErrorIs(t, RenameState("nope", "other").Apply(config), ErrStateNotFound)
}

func TestRemoveDuplicateTransitionWithoutDuplicate(t *testing.T) {
	t.Parallel()

	config := loopConfig()

	err := RemoveDuplicateTransition(config.Transitions[0]).Apply(config)
	require.ErrorIs(t, err, ErrDuplicateNotFound)
}

func TestValidateFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fsm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
states: [user, ask]
transitions:
  - trigger: advance
    source: user
    dest: ask
`), 0o600))

	result, err := ValidateFile(path, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, path, result.Warnings[0].Location.File)

	strict, err := ValidateFileStrict(path, nil)
	require.NoError(t, err)
	assert.False(t, strict.Valid)
	assert.Equal(t, path, strict.Errors[0].Location.File)

	missing, err := ValidateFile(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)
	assert.Equal(t, []string{"CONFIG_LOAD_FAILED"}, codes(missing))
}

func TestValidationResultString(t *testing.T) {
	t.Parallel()

	valid := ValidationResult{Valid: true}
	assert.Contains(t, valid.String(), "Configuration is valid")

	invalid := ValidationResult{
		Errors: []ValidationError{
			{Code: "UNREACHABLE_STATE", Message: "State 'x' cannot be reached", Location: Location{State: "x"}},
		},
		Warnings: []ValidationWarning{
			{Code: "NAMING_CONVENTION", Message: "Trigger 'goBack'", Location: Location{Trigger: "goBack"}},
		},
	}

	out := invalid.String()
	assert.Contains(t, out, "1 error(s)")
	assert.Contains(t, out, "[UNREACHABLE_STATE]")
	assert.Contains(t, out, "(state: x)")
	assert.Contains(t, out, "(trigger: goBack)")
	assert.True(t, invalid.HasErrors())
	assert.True(t, invalid.HasWarnings())
}

func TestSnakeCaseHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, isSnakeCase("ask_hospital"))
	assert.False(t, isSnakeCase("askHospital"))
	assert.False(t, isSnakeCase("ask-hospital"))
	assert.Equal(t, "ask_hospital", toSnakeCase("askHospital"))
	assert.Equal(t, "ask_hospital", toSnakeCase("AskHospital"))
	assert.Equal(t, "ask_hospital", toSnakeCase("ask-hospital"))
}
