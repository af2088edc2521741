package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/workspace/sdlc-console/internal/config"
	"github.com/workspace/sdlc-console/internal/dispatch"
	"github.com/workspace/sdlc-console/internal/kvstore"
	"github.com/workspace/sdlc-console/internal/retry"
	"github.com/workspace/sdlc-console/internal/sandbox"
	"github.com/workspace/sdlc-console/internal/session"
)

// app holds the components shared by serve and the session subcommands.
type app struct {
	cfg        *config.Config
	db         *kvstore.SQLite // nil when storage could not be opened
	remote     *sandbox.Client
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
}

// newApp wires storage, the Remote Session API client, the session manager
// and the dispatcher. A storage failure is logged and the app runs on
// process memory.
func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg}

	db, err := openStore(cfg.PersistenceDBPath)
	if err != nil {
		slog.Warn("Persistence unavailable; sessions will not survive restarts", "path", cfg.PersistenceDBPath, "error", err)
	} else {
		a.db = db
	}

	a.remote = sandbox.New(sandbox.Config{
		BaseURL:      cfg.RemoteSessionURL,
		StartTimeout: cfg.StartSessionTimeout,
		StopTimeout:  cfg.StopSessionTimeout,
		URLs: sandbox.URLs{
			Editor:  cfg.EditorURLTemplate,
			Preview: cfg.PreviewURLTemplate,
		},
	})

	a.sessions = session.NewManager(a.scope(kvstore.ScopeLocal), a.remote, session.Config{
		ExpiresAfter: cfg.SessionExpiresAfter,
		PollInterval: cfg.SessionPollInterval,
		GlobalKey:    cfg.SessionGlobalKey,
		Override: session.OverridePolicy{
			Enabled:   cfg.SpecialSession,
			SessionID: cfg.SpecialSessionID,
		},
	})

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.DispatchMaxAttempts
	gate := dispatch.NewGate(a.scope(kvstore.ScopeSession), cfg.DispatchCooldown)
	a.dispatcher = dispatch.New(dispatch.Config{
		BaseURL: cfg.WorkflowBaseURL,
		Paths:   cfg.WorkflowWebhookPaths,
		Token:   cfg.WorkflowToken,
		Timeout: cfg.DispatchTimeout,
		Retry:   policy,
	}, gate, a.scope(kvstore.ScopeLocal))

	return a
}

// scope returns a store partition, or nil (process memory) without a
// database.
func (a *app) scope(s kvstore.Scope) kvstore.Store {
	if a.db == nil {
		return nil
	}
	return a.db.Scoped(s)
}

// startFresh drops session-scoped entries left by a previous process.
func (a *app) startFresh() {
	if a.db == nil {
		return
	}
	n, err := a.db.PurgeScope(kvstore.ScopeSession)
	if err != nil {
		slog.Warn("Failed to purge session-scoped entries", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Purged session-scoped entries", "count", n)
	}
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close persistence store", "error", err)
	}
}

func openStore(path string) (*kvstore.SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create persistence directory: %w", err)
	}
	return kvstore.OpenSQLite(path)
}

func formatRemaining(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
