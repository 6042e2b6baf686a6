// workspace.go opens the shared state every command works against.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/session"
	"github.com/agentk-dev/agentk/internal/task"
)

// workspace is the opened .agentk directory of one project.
type workspace struct {
	root   string
	cfg    *config.Config
	mode   task.Mode
	store  *task.Store
	logger *log.Logger
}

func openWorkspace() (*workspace, error) {
	root := rootFlag
	if root == "" {
		var err error
		root, err = config.ResolveRoot()
		if err != nil {
			return nil, fmt.Errorf("resolving workspace root: %w", err)
		}
	} else {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace root: %w", err)
		}
		root = abs
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	modeName := cfg.Mode
	if modeFlag != "" {
		modeName = modeFlag
	}
	mode, err := task.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	store, err := task.NewStore(config.Dir(root), mode)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	logger, err := log.NewLogger(root)
	if err != nil {
		return nil, err
	}
	return &workspace{root: root, cfg: cfg, mode: mode, store: store, logger: logger}, nil
}

func (w *workspace) runsDir() string {
	return filepath.Join(config.Dir(w.root), "runs")
}

func (w *workspace) resolver() (*task.Resolver, error) {
	policy, err := task.ParsePolicy(w.cfg.Execution.DependencyPolicy)
	if err != nil {
		return nil, err
	}
	return task.NewResolver(w.store, policy), nil
}

// sessions opens the session database. The caller closes the store.
func (w *workspace) sessions() (*session.Store, *session.Registry, error) {
	db, err := session.NewStore(filepath.Join(config.Dir(w.root), "sessions.db"))
	if err != nil {
		return nil, nil, err
	}
	return db, session.NewRegistry(db, w.store, w.logger), nil
}

// resolveSession returns id when set, otherwise the latest active session.
func resolveSession(db *session.Store, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	sess, err := db.GetLatestActive()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", errors.New("no active session; start one with: agentk run")
		}
		return "", err
	}
	return sess.ID, nil
}
