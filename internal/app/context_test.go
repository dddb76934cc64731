package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

func TestResolveSeedsDefaults(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(ws)
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	_, _, err = ResolveOrgAndConfig(ctx, ws, "", r)
	require.Error(t, err, "no org anywhere")

	orgID, cfg, err := ResolveOrgAndConfig(ctx, ws, "acme", r)
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID)
	assert.Equal(t, 72, cfg.Disputes.ReviewerSLAHours)

	// The stored org is now the only one.
	orgID, _, err = ResolveOrgAndConfig(ctx, ws, "", r)
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID)
}

func TestResolveSeedsFromWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("org: {id: from-file}\nsprints: {dispute_window_hours: 24}\n"), 0o644))
	conn, err := Open(ws)
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	orgID, cfg, err := ResolveOrgAndConfig(ctx, ws, "", r)
	require.NoError(t, err)
	assert.Equal(t, "from-file", orgID)
	assert.Equal(t, 24, cfg.Sprints.DisputeWindowHours)

	// Later edits to the stored config win over the file.
	cfg.Sprints.DisputeWindowHours = 12
	require.NoError(t, r.UpsertOrgConfig(ctx, nil, orgID, cfg, time.Now()))
	e, err := NewEngine(ctx, conn, ws, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 12, e.Config.Sprints.DisputeWindowHours)
}
