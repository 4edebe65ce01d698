// Package app wires a workspace together: database, config, engine. The
// CLI and the server both go through Open so they agree on layout and
// defaults.
package app

import (
	"context"
	"database/sql"
	"path/filepath"

	"go.uber.org/zap"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/migrate"
	"taskline/internal/storage"
	"taskline/internal/storage/sqlitestore"
)

// Env bundles the open handles of one workspace.
type Env struct {
	Workspace string
	Cfg       *config.Config
	DB        *sql.DB
	Store     storage.Store
	Engine    engine.Engine
	Log       *zap.Logger
}

// Open prepares a workspace: the database is opened and migrated, the
// config loaded. A missing taskline.yml falls back to the default config
// so read-only commands work in a bare directory.
func Open(workspace string, log *zap.Logger) (*Env, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			abs = workspace
		}
		cfg = config.Default(filepath.Base(abs))
	}
	if log == nil {
		log = zap.NewNop()
	}
	store := sqlitestore.New(conn)
	return &Env{
		Workspace: workspace,
		Cfg:       cfg,
		DB:        conn,
		Store:     store,
		Engine:    engine.New(store),
		Log:       log,
	}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// ContextFor resolves the execution context for an actor. Operators get
// every permission without needing a worker record, which is how the
// first worker ever gets created. Everyone else is looked up and granted
// their record's permissions plus whatever their roles expand to.
func (e *Env) ContextFor(ctx context.Context, actorID string) (domain.ExecutionContext, error) {
	ec := domain.ExecutionContext{
		ActorID:     actorID,
		WorkspaceID: e.Cfg.Workspace.ID,
		Environment: e.Cfg.Workspace.Environment,
	}
	if actorID == "" {
		return ec, nil
	}
	if e.Cfg.IsOperator(actorID) {
		ec.Permissions = auth.All()
		return ec, nil
	}
	w, err := e.Store.GetWorker(ctx, actorID)
	if err != nil {
		return ec, err
	}
	if w == nil {
		return ec, domain.Unauthorized("unknown actor " + actorID)
	}
	ec.Permissions = mergePermissions(w.Permissions, e.Cfg.ExpandRoles(w.Roles))
	return ec, nil
}

func mergePermissions(direct, fromRoles []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, set := range [][]string{direct, fromRoles} {
		for _, p := range set {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
