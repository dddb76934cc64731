package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/db"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/migrate"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// ResolveOrgAndConfig picks the active org and makes sure its config is
// stored, seeding it when missing. It prefers the override, then the only
// org in the database, then the org named by the workspace organic.yml.
// A seeded config comes from organic.yml when it names the same org and
// from defaults otherwise.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	orgID := orgOverride
	if orgID == "" {
		id, err := r.SingleOrg(ctx)
		switch {
		case err == nil:
			orgID = id
		case errors.Is(err, repo.ErrNotFound) && fileCfg != nil:
			orgID = fileCfg.Org.ID
		case errors.Is(err, repo.ErrNotFound):
			return "", nil, fmt.Errorf("org not specified; use --org or organic config import")
		default:
			return "", nil, err
		}
	}

	cfg, err := r.GetOrgConfig(ctx, nil, orgID)
	if err == nil {
		cfg.Org.ID = orgID
		return orgID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", nil, err
	}
	seed := config.Default(orgID)
	if fileCfg != nil && fileCfg.Org.ID == orgID {
		seed = fileCfg
	}
	if err := r.UpsertOrgConfig(ctx, nil, orgID, seed, time.Now()); err != nil {
		return "", nil, fmt.Errorf("seed org config: %w", err)
	}
	return orgID, seed, nil
}

// Open opens and migrates the workspace database.
func Open(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// NewEngine resolves the org config and builds an engine for one request or
// command.
func NewEngine(ctx context.Context, conn *sql.DB, workspace, orgOverride string, logger *slog.Logger) (engine.Engine, error) {
	r := repo.Repo{DB: conn}
	_, cfg, err := ResolveOrgAndConfig(ctx, workspace, orgOverride, r)
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(conn, cfg)
	if logger != nil {
		e.Logger = logger
	}
	return e, nil
}
