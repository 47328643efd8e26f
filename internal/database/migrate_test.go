package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_orders.up.sql",
		"000001_users.up.sql",
		"000001_users.down.sql",
		"000002_orders.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_skip.up.sql"), 0o755))

	up, err := MigrationFiles(dir, "up")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_users.up.sql", "000002_orders.up.sql"}, up)

	down, err := MigrationFiles(dir, "down")
	require.NoError(t, err)
	assert.Equal(t, []string{"000002_orders.down.sql", "000001_users.down.sql"}, down)

	_, err = MigrationFiles(dir, "sideways")
	assert.Error(t, err)
}

func TestMigrationFilesShippedStores(t *testing.T) {
	for _, store := range []string{"inventory", "orders"} {
		t.Run(store, func(t *testing.T) {
			dir := filepath.Join("..", "..", "migrations", store)

			up, err := MigrationFiles(dir, "up")
			require.NoError(t, err)
			down, err := MigrationFiles(dir, "down")
			require.NoError(t, err)

			assert.NotEmpty(t, up)
			assert.Len(t, down, len(up), "every up migration needs a down migration")
		})
	}
}
