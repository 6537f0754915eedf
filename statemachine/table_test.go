package statemachine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuards(t *testing.T, names ...string) *GuardRegistry {
	t.Helper()

	registry := NewGuardRegistry()
	for _, name := range names {
		require.NoError(t, registry.Register(name, func(context.Context, *Context) (bool, error) {
			return false, nil
		}))
	}

	return registry
}

func TestNewTableUnknownGuard(t *testing.T) {
	t.Parallel()

	config, err := LoadConfigFromBytes([]byte(jsonConfig))
	require.NoError(t, err)

	_, err = NewTable(config, testGuards(t, "is_asking_dengue_fever", "is_text"))
	require.ErrorIs(t, err, ErrUnknownGuard)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "is_asking_hospital")
}

func TestNewTableImplicitRoutes(t *testing.T) {
	t.Parallel()

	config, err := LoadConfigFromBytes([]byte(jsonConfig))
	require.NoError(t, err)

	table, err := NewTable(config, testGuards(t, "is_asking_dengue_fever", "is_text", "is_asking_hospital"))
	require.NoError(t, err)

	for _, state := range table.States() {
		routes := table.Candidates(state, DefaultFallbackTrigger)
		require.Len(t, routes, 1, state)
		assert.Equal(t, DefaultFallbackState, routes[0].Dest)
		assert.True(t, routes[0].Implicit)
	}

	ret := table.Candidates(DefaultFallbackState, DefaultReturnTrigger)
	require.Len(t, ret, 1)
	assert.Equal(t, DefaultInitialState, ret[0].Dest)

	// The wildcard expands to one route per state, in state order.
	finish := 0

	for _, route := range table.Routes() {
		if route.Trigger == "finish_ans" {
			assert.Equal(t, table.States()[finish], route.Source)
			finish++
		}
	}

	assert.Equal(t, len(table.States()), finish)
	assert.Equal(t, []string{"advance", "finish_ans", DefaultReturnTrigger, DefaultFallbackTrigger}, table.Triggers())
}

func TestTableRoundTrip(t *testing.T) {
	t.Parallel()

	guards := testGuards(t, "is_asking_dengue_fever", "is_text", "is_asking_hospital", "is_sticker")

	for name, doc := range map[string]string{"json": jsonConfig, "yaml": yamlConfig} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			config, err := LoadConfigFromBytes([]byte(doc))
			require.NoError(t, err)

			first, err := NewTable(config, guards)
			require.NoError(t, err)

			data, err := first.Config().MarshalIndentJSON()
			require.NoError(t, err)

			reloaded, err := LoadConfigFromBytes(data)
			require.NoError(t, err)

			second, err := NewTable(reloaded, guards)
			require.NoError(t, err)

			if diff := cmp.Diff(first.Routes(), second.Routes()); diff != "" {
				t.Errorf("routes differ after round trip (-first +second):\n%s", diff)
			}

			if diff := cmp.Diff(first.Config(), second.Config()); diff != "" {
				t.Errorf("config differs after round trip (-first +second):\n%s", diff)
			}
		})
	}
}

func TestTableConfigExcludesImplicit(t *testing.T) {
	t.Parallel()

	table, err := NewTable(&Config{States: []string{"user"}}, nil)
	require.NoError(t, err)

	assert.Empty(t, table.Config().Transitions)
	assert.Len(t, table.Routes(), 3)
}
