package main

import (
	"context"
	"errors"
	"fmt"

	"aicore/internal/config"
	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/orchestrator"
	"aicore/internal/routing"
	"aicore/internal/session"
	"aicore/internal/store"
	"aicore/internal/subagent"
	"aicore/internal/tasks"
	"aicore/internal/tools"
	"aicore/internal/types"
	"aicore/internal/usage"
)

// app is one fully wired aicore instance.
type app struct {
	cfg      *config.Config
	client   *gateway.Client
	db       *store.SQLiteStore
	tracker  *usage.Tracker
	sessions *session.Store
	router   *routing.Router
	agents   *subagent.Orchestrator
	watcher  *subagent.Watcher
	board    *tasks.Board
	registry *tools.Registry
	orch     *orchestrator.Orchestrator
}

// newApp builds every component from cfg. The returned context carries the
// usage tracker; close the app when done.
func newApp(ctx context.Context, cfg *config.Config, ws string, watch bool) (*app, context.Context, error) {
	a := &app{cfg: cfg}
	a.client = gateway.New(cfg.Gateway())

	tracker, err := usage.NewTracker(ws)
	if err != nil {
		logging.BootWarn("usage tracking in memory only: %v", err)
		tracker = usage.NewMemoryTracker()
	}
	a.tracker = tracker
	ctx = usage.NewContext(ctx, tracker)

	sessOpts := []session.Option{
		session.WithLimits(cfg.SessionLimits()),
		session.WithMaxContinuations(cfg.Provider.MaxContinuations),
		session.WithSystemPrompt(func(cc types.ChatContext) string {
			return gateway.BuildSystemPrompt(cc, false, types.ChatModeVibe)
		}),
	}
	agentOpts := []subagent.Option{
		subagent.WithMaxContinuations(cfg.Provider.MaxContinuations),
	}
	if cfg.Session.Persist {
		db, err := store.Open(config.ResolvePath(ws, cfg.Session.DatabasePath))
		if err != nil {
			a.Close()
			return nil, ctx, err
		}
		a.db = db
		sessOpts = append(sessOpts, session.WithPersister(db))
		agentOpts = append(agentOpts, subagent.WithRunStore(db))
	}
	a.sessions = session.NewStore(a.client, sessOpts...)
	a.router = routing.New(cfg.RoutingConfig(), a.client)
	a.agents = subagent.New(ws, a.client, agentOpts...)

	if watch && cfg.Subagents.Enabled && cfg.Subagents.Watch {
		if err := a.agents.EnsureDefaults(); err != nil {
			logging.SubagentWarn("default profiles unavailable: %v", err)
		}
		w, err := a.agents.Watch(ctx)
		if err != nil {
			logging.SubagentWarn("profile watcher disabled: %v", err)
		} else {
			a.watcher = w
		}
	}

	board, err := tasks.Load(config.ResolvePath(ws, cfg.Autopilot.TasksFile))
	if err != nil {
		a.Close()
		return nil, ctx, err
	}
	a.board = board

	wsRoot, err := tools.NewWorkspace(ws)
	if err != nil {
		a.Close()
		return nil, ctx, err
	}
	a.registry = tools.NewRegistry()
	if err := wsRoot.Register(a.registry); err != nil {
		a.Close()
		return nil, ctx, fmt.Errorf("register tools: %w", err)
	}

	a.orch = orchestrator.New(cfg.Orchestrator(), orchestrator.Deps{
		Sessions:  a.sessions,
		Router:    a.router,
		Chat:      a.client,
		Subagents: a.agents,
		Board:     a.board,
		Writer:    tools.NewWriter(wsRoot),
		Tools:     a.registry,
	})

	logging.Boot("aicore ready (model=%s, auto routing=%v, subagents=%v, tasks=%d)",
		cfg.Provider.Model, cfg.Routing.Auto, cfg.Subagents.Enabled, len(board.Tasks()))
	return a, ctx, nil
}

// Close releases the watcher, the usage file and the database.
func (a *app) Close() error {
	var errs []error
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.tracker != nil {
		errs = append(errs, a.tracker.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
