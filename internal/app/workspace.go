package app

import (
	"context"
	"database/sql"
	"fmt"

	"storyseed/internal/db"
	"storyseed/internal/migrate"
	"storyseed/internal/repo"
)

// Workspace is an opened, migrated local state directory.
type Workspace struct {
	Dir  string
	DB   *sql.DB
	Repo repo.Repo
}

// OpenWorkspace opens the workspace database and applies pending migrations.
func OpenWorkspace(ctx context.Context, dir string) (*Workspace, error) {
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate workspace: %w", err)
	}
	return &Workspace{Dir: dir, DB: conn, Repo: repo.Repo{DB: conn}}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
