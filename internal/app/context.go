package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"combinados/internal/config"
	"combinados/internal/repo"
)

// Session carries the resolved actor for one request or CLI invocation.
type Session struct {
	UserID string
	Roles  []string
}

// ResolveSession loads the actor's roles and makes sure a profile row exists,
// so first-time users can act without a separate registration step.
func ResolveSession(ctx context.Context, r repo.Repo, userID, fullName string) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("user not specified")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()
	if err := r.EnsureProfile(ctx, tx, userID, fullName, now); err != nil {
		return Session{}, fmt.Errorf("ensure profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	roles, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: userID, Roles: roles}, nil
}

// ResolveWorkspaceConfig loads the stored workspace config, seeding the
// default when none exists yet. File config, when present, wins over the
// stored copy and refreshes it.
func ResolveWorkspaceConfig(ctx context.Context, workspace, workspaceID string, r repo.Repo) (*config.Config, error) {
	if workspaceID == "" {
		workspaceID = "default"
	}
	if fileCfg, err := config.LoadOptional(workspace); err != nil {
		return nil, err
	} else if fileCfg != nil {
		if err := r.UpsertWorkspaceConfig(ctx, fileCfg.Workspace.ID, fileCfg); err != nil {
			return nil, fmt.Errorf("store workspace config: %w", err)
		}
		return fileCfg, nil
	}
	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			seed := config.Default(workspaceID)
			if err := r.UpsertWorkspaceConfig(ctx, workspaceID, seed); err != nil {
				return nil, fmt.Errorf("seed workspace config: %w", err)
			}
			return seed, nil
		}
		return nil, err
	}
	return cfg, nil
}
