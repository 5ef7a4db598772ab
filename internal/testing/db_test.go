package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestDB_AnyLabelMigratesStateSchema(t *testing.T) {
	for _, label := range []string{"server", "backup_rotate", "scheduler", "core"} {
		t.Run(label, func(t *testing.T) {
			db, cleanup := NewTestDB(t, label)
			defer cleanup()

			assert.Equal(t, "core", db.Name())
			assert.Contains(t, db.Path(), "test_"+label+".db")

			var n int
			err := db.Conn().QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('assets', 'rebalance_state')",
			).Scan(&n)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestNewTestDBFromFile_ReopensWithStateSchema(t *testing.T) {
	db, cleanup := NewTestDB(t, "reopen")
	path := db.Path()
	cleanup()

	reopened := NewTestDBFromFile(t, path, "reopen")
	assert.Equal(t, "core", reopened.Name())
	require.NoError(t, reopened.Migrate())
}
