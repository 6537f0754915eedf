package sqlitedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), Config{})
	require.ErrorIs(t, err, ErrPathRequired)
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	db, err := Open(t.Context(), DefaultConfig(filepath.Join(t.TempDir(), "bot.db")))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	migrations := []Migration{
		{Name: "001_things", SQL: `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)`},
		{Name: "002_thing_index", SQL: `CREATE INDEX things_name ON things (name)`},
	}

	require.NoError(t, Migrate(t.Context(), db, migrations...))
	require.NoError(t, Migrate(t.Context(), db, migrations...))

	applied, err := Applied(t.Context(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_things", "002_thing_index"}, applied)

	var mode string
	require.NoError(t, db.QueryRowContext(t.Context(), `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMigrateRollsBackFailure(t *testing.T) {
	t.Parallel()

	db, err := Open(t.Context(), DefaultConfig(filepath.Join(t.TempDir(), "bot.db")))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	err = Migrate(t.Context(), db, Migration{Name: "001_broken", SQL: `CREATE TABLE (`})
	require.Error(t, err)

	applied, err := Applied(t.Context(), db)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
