// Package app wires a workspace into a ready-to-use engine: it loads
// shotline.yml, opens and migrates the database, and seeds the orgs and
// actors the config declares.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shotline/internal/config"
	"shotline/internal/db"
	"shotline/internal/domain"
	"shotline/internal/engine"
	"shotline/internal/migrate"
	"shotline/internal/repo"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine
	Logger    *zap.Logger
}

type Options struct {
	Workspace string
	Logger    *zap.Logger
}

// Open prepares a workspace for use. A missing shotline.yml falls back to
// the built-in defaults; an invalid one is an error.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := seed(ctx, conn, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eng := engine.New(conn, cfg)
	eng.Logger = logger.Named("engine")

	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Engine:    eng,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// seed upserts the orgs and actors declared under seed: in the config.
// Existing rows are left untouched.
func seed(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
	if len(cfg.Seed.Orgs) == 0 && len(cfg.Seed.Actors) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, o := range cfg.Seed.Orgs {
		org := domain.Org{ID: o.ID, Name: o.Name, CreatedAt: now}
		if err := r.EnsureOrg(ctx, tx, org); err != nil {
			return fmt.Errorf("seed org %s: %w", o.ID, err)
		}
	}
	for _, a := range cfg.Seed.Actors {
		actor := domain.Actor{
			ID:        a.ID,
			OrgID:     a.Org,
			Name:      a.Name,
			Role:      domain.Role(a.Role),
			CreatedAt: now,
		}
		if err := r.EnsureActor(ctx, tx, actor); err != nil {
			return fmt.Errorf("seed actor %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}
