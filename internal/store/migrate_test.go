package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadMigrationsPairsAndOrders(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0002_votes.up.sql":   "CREATE TABLE votes();",
		"0002_votes.down.sql": "DROP TABLE votes;",
		"0001_init.up.sql":    "CREATE TABLE words();",
		"0001_init.down.sql":  "DROP TABLE words;",
		"README.md":           "not a migration",
		"0003_notes.sql":      "ignored without a direction",
	})

	migrations, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001_init.up.sql", migrations[0].Version)
	assert.Equal(t, "DROP TABLE words;", migrations[0].Down)
	assert.Equal(t, "0002_votes.up.sql", migrations[1].Version)
	assert.Len(t, migrations[1].Checksum, 64)
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestLoadMigrationsChecksumFollowsUpScript(t *testing.T) {
	first := writeMigrations(t, map[string]string{
		"0001_init.up.sql":   "CREATE TABLE words();",
		"0001_init.down.sql": "DROP TABLE words;",
	})
	edited := writeMigrations(t, map[string]string{
		"0001_init.up.sql":   "CREATE TABLE words(id TEXT);",
		"0001_init.down.sql": "DROP TABLE words;",
	})

	a, err := LoadMigrations(first)
	require.NoError(t, err)
	b, err := LoadMigrations(edited)
	require.NoError(t, err)
	assert.Equal(t, a[0].Version, b[0].Version)
	assert.NotEqual(t, a[0].Checksum, b[0].Checksum)
}

func TestLoadMigrationsRejectsIncompletePairs(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{name: "missing down", files: map[string]string{"0001_init.up.sql": "SELECT 1;"}},
		{name: "missing up", files: map[string]string{"0001_init.down.sql": "SELECT 1;"}},
		{name: "two ups", files: map[string]string{
			"0001_init.up.sql":   "SELECT 1;",
			"0001_other.up.sql":  "SELECT 2;",
			"0001_init.down.sql": "SELECT 3;",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMigrations(writeMigrations(t, tt.files))
			assert.Error(t, err)
		})
	}
}

func TestShippedMigrationsLoad(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "0001_init.up.sql", migrations[0].Version)
}

func TestPoolConfigDefaults(t *testing.T) {
	pool := PoolConfig{}.withDefaults()
	assert.Equal(t, 20, pool.MaxOpenConns)
	assert.Equal(t, 10, pool.MaxIdleConns)
	assert.Equal(t, 1, pool.ConnectAttempts)

	capped := PoolConfig{MaxOpenConns: 4, MaxIdleConns: 8}.withDefaults()
	assert.Equal(t, 4, capped.MaxIdleConns)
}
