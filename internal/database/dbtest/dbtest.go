// Package dbtest opens migrated databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudretail/saga/internal/database"
)

// SQLite returns a migrated SQLite database in a temporary directory. It is
// closed when the test ends.
func SQLite(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "retailsaga.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	return db
}
