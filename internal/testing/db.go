// Package testing provides fakes and helpers shared by the tierindex tests.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/tierindex/internal/database"
)

// schemaName is the schema every test database migrates, whatever its label
const schemaName = "core"

// NewTestDB creates a migrated database in a temporary file. The name only
// labels the file; the schema is always the fund state schema. The database
// is closed when the test ends; the returned cleanup may also be called early.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))

	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    schemaName,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)
	return db, cleanup
}

// NewTestDBFromFile reopens an existing database file, as a restart would
func NewTestDBFromFile(t *testing.T, path, name string) *database.DB {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Database file %s: %v", path, err)
	}
	db, err := database.New(database.Config{Path: path, Name: schemaName})
	if err != nil {
		t.Fatalf("Failed to open database %s (%s): %v", path, name, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
