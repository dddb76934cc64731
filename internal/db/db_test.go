package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesWorkspaceDB(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()

	var mode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.FileExists(t, filepath.Join(ws, ".organic", "organic.db"))
}

func TestFileOverridesWorkspace(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "x.db")
	conn, err := Open(Config{Workspace: "ignored", File: file})
	require.NoError(t, err)
	conn.Close()
	assert.FileExists(t, file)
}

func TestDSNBusyTimeout(t *testing.T) {
	dsn := Config{File: "/tmp/a.db", BusyTimeout: 2 * time.Second}.dsn()
	assert.Contains(t, dsn, "busy_timeout%282000%29")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/a.db?"))
}
