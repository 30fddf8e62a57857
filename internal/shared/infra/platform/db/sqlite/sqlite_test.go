package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:", DSN(":memory:"))

	dsn := DSN("./data/fulfillment.db")
	assert.Contains(t, dsn, "file:./data/fulfillment.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "busy_timeout(5000)")

	assert.Contains(t, DSN("file:x.db?cache=shared"), "file:x.db?cache=shared&_pragma")
}

func TestOpen_FileAndMemory(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	mem, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer mem.Close()
	assert.Equal(t, 1, mem.Stats().MaxOpenConnections)
}
