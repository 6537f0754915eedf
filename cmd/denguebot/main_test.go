package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/visualizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.ExecuteContext(t.Context())

	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func bundledFSM(t *testing.T) string {
	t.Helper()

	data, err := denguebot.Assets.ReadFile(denguebot.AssetFSM)
	require.NoError(t, err)

	return writeFile(t, "fsm.json", string(data))
}

func TestValidateBundledConfig(t *testing.T) {
	t.Parallel()

	out, err := run(t, "validate", bundledFSM(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestValidateReportsUnreachableState(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "fsm.json", `{
  "initial": "user",
  "states": ["user", "ask_dengue_fever", "orphan"],
  "transitions": [
    {"trigger": "advance", "source": "user", "dest": "ask_dengue_fever"},
    {"trigger": "go_back", "source": "ask_dengue_fever", "dest": "user"}
  ]
}`)

	out, err := run(t, "validate", path)
	require.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "[UNREACHABLE_STATE]")
	assert.Contains(t, out, "orphan")
}

func TestValidateFix(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "fsm.json", `{
  "initial": "user",
  "states": ["user", "ask_dengue_fever", "orphan"],
  "transitions": [
    {"trigger": "advance", "source": "user", "dest": "ask_dengue_fever"},
    {"trigger": "advance", "source": "user", "dest": "ask_dengue_fever"},
    {"trigger": "go_back", "source": "ask_dengue_fever", "dest": "user"},
    {"trigger": "go_back", "source": "orphan", "dest": "user"}
  ]
}`)
	target := filepath.Join(t.TempDir(), "fixed.json")

	_, err := run(t, "validate", path, "--fix")
	require.ErrorIs(t, err, errFixNeedsOutput)

	out, err := run(t, "validate", path, "--fix", "-o", target, "--rename", "ask_dengue_fever=ask_fever")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Remove unreachable state 'orphan'")
	assert.Contains(t, out, "Configuration is valid")

	fixed, err := statemachine.LoadConfig(target)
	require.NoError(t, err)
	assert.NotContains(t, fixed.States, "orphan")
	assert.Contains(t, fixed.States, "ask_fever")
	assert.NotContains(t, fixed.States, "ask_dengue_fever")
	assert.Len(t, fixed.Transitions, 2)

	out, err = run(t, "validate", target)
	require.NoError(t, err, out)
}

func TestValidateReportsUnknownTemplate(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "fsm.json", `{
  "initial": "user",
  "states": ["user", "thanks"],
  "transitions": [
    {"trigger": "advance", "source": "user", "dest": "thanks"},
    {"trigger": "go_back", "source": "thanks", "dest": "user"}
  ],
  "callbacks": [
    {"state": "thanks", "type": "text", "template": "no_such_template"}
  ]
}`)

	out, err := run(t, "validate", path)
	require.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "[UNKNOWN_TEMPLATE]")
	assert.Contains(t, out, "no_such_template")
}

func TestValidateMissingFile(t *testing.T) {
	t.Parallel()

	_, err := run(t, "validate", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestDiagram(t *testing.T) {
	t.Parallel()

	out, err := run(t, "diagram")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stateDiagram-v2"), out)
	assert.Contains(t, out, "ask_dengue_fever")

	target := filepath.Join(t.TempDir(), "fsm.dot")

	_, err = run(t, "diagram", bundledFSM(t), "--format", "dot", "--output", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "digraph fsm {")

	_, err = run(t, "diagram", "--format", "svg")
	require.ErrorIs(t, err, visualizer.ErrUnknownFormat)
}

func TestFacilitiesImport(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "bot.db")
	csvPath := writeFile(t, "facilities.csv", `name,address,phone,opening_hours,lat,lng
成大醫院,台南市北區勝利路138號,06-2353535,24h,22.9996,120.2186
台南醫院,台南市中西區中山路125號,06-2200055,,22.9935,120.2064
`)

	out, err := run(t, "facilities", "import", csvPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 facilities, 2 in the index")

	out, err = run(t, "facilities", "import", csvPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 in the index")

	bad := writeFile(t, "bad.csv", "name,address\nx,y\n")

	_, err = run(t, "facilities", "import", bad, "--db", dbPath)
	require.ErrorIs(t, err, geo.ErrInvalidCSV)
}
