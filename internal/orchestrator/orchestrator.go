// Package orchestrator owns one assistant instance: its sessions, router,
// subagents, fuse and task board. Handle turns one user message into a
// stream of events by choosing between an explicit subagent command, an
// autopilot batch, and a routed session chat.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"aicore/internal/autopilot"
	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/retry"
	"aicore/internal/routing"
	"aicore/internal/session"
	"aicore/internal/stream"
	"aicore/internal/subagent"
	"aicore/internal/types"
)

// ExecutionMode decides whether pending tasks may be executed without
// confirmation.
type ExecutionMode string

const (
	ModeAutopilot  ExecutionMode = "autopilot"
	ModeSupervised ExecutionMode = "supervised"
)

const (
	maxDelegation = 4000
	defaultKey    = "default"
)

// Subagents runs delegate profiles.
type Subagents interface {
	EnsureDefaults() error
	RunExplicit(ctx context.Context, cmd subagent.Command, chatCtx types.ChatContext, opts subagent.RunOptions) (subagent.Result, error)
	RunRouted(ctx context.Context, delegate routing.Delegate, task string, chatCtx types.ChatContext, opts subagent.RunOptions) (subagent.Result, error)
}

// ToolExecutor runs model-issued tool calls.
type ToolExecutor interface {
	Definitions() []types.ToolDefinition
	ExecuteCall(ctx context.Context, call types.ToolCall) stream.ToolResult
}

// Config holds the behavior switches of an instance.
type Config struct {
	SubagentsEnabled bool
	ExecutionMode    ExecutionMode
	Autopilot        autopilot.Config
}

// DefaultConfig enables subagents and autopilot execution.
func DefaultConfig() Config {
	return Config{
		SubagentsEnabled: true,
		ExecutionMode:    ModeAutopilot,
		Autopilot:        autopilot.DefaultConfig(),
	}
}

// Deps are the collaborators of an instance. Subagents, Board, Writer and
// Tools may be nil; the features that need them are then skipped.
type Deps struct {
	Sessions  *session.Store
	Router    autopilot.Router
	Chat      autopilot.Chatter
	Subagents Subagents
	Board     types.TaskBoard
	Writer    types.FileWriter
	Tools     ToolExecutor
	Fuse      *autopilot.Fuse
}

// Request is one user turn.
type Request struct {
	Message   string
	Context   types.ChatContext
	Mode      types.ChatMode
	AgentMode bool
	// ForceRoute runs the classifier even when automatic routing is off.
	ForceRoute bool
	SessionID  string
}

func (r Request) key() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return defaultKey
}

// Orchestrator handles user turns. All state lives on the instance.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New creates an orchestrator. A nil fuse gets the default classifier.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Fuse == nil {
		deps.Fuse = autopilot.NewFuse(nil)
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = ModeAutopilot
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Sessions exposes the session store.
func (o *Orchestrator) Sessions() *session.Store { return o.deps.Sessions }

// Handle processes one user message. The channel is closed when the turn
// ends; cancellation of ctx ends it without a trailing event.
func (o *Orchestrator) Handle(ctx context.Context, req Request) <-chan stream.Event {
	out := make(chan stream.Event, 64)
	go func() {
		defer close(out)
		if req.Mode == "" {
			req.Mode = types.ChatModeVibe
		}

		if o.subagentsOn() {
			if err := o.deps.Subagents.EnsureDefaults(); err != nil {
				logging.SubagentWarn("default profiles unavailable: %v", err)
			}
			if cmd, ok := subagent.ParseCommand(req.Message); ok {
				o.runCommand(ctx, cmd, req, out)
				return
			}
		}

		plan := o.deps.Router.Route(ctx, req.Message, req.Context, req.Mode, req.AgentMode, req.ForceRoute)
		logging.Routing("delegate=%s complexity=%s model=%s thinking=%t search=%t max_tokens=%d confidence=%.2f reason=%s",
			plan.Delegate, plan.Complexity, plan.Model, plan.EnableThinking, plan.EnableWebSearch, plan.MaxTokens, plan.Confidence, plan.Reason)

		if o.takeover(ctx, req, out) {
			return
		}

		message := req.Message
		if o.subagentsOn() && req.Mode == types.ChatModeVibe {
			message = o.delegate(ctx, plan, req, out)
		}
		if ctx.Err() != nil {
			return
		}
		o.chat(ctx, plan, req, message, out)
	}()
	return out
}

func (o *Orchestrator) subagentsOn() bool {
	return o.cfg.SubagentsEnabled && o.deps.Subagents != nil
}

// runCommand executes an explicit invoke or resume command, forwarding the
// subagent's stream as it arrives.
func (o *Orchestrator) runCommand(ctx context.Context, cmd subagent.Command, req Request, out chan<- stream.Event) {
	target := cmd.Name
	if cmd.Kind == subagent.Resume {
		target = cmd.RunID
	}
	logging.Subagent("explicit %s command for %s", cmd.Kind, target)
	send(ctx, out, stream.Notice{Text: "Calling subagent..."})

	res, err := o.deps.Subagents.RunExplicit(ctx, cmd, req.Context, subagent.RunOptions{
		OnEvent: func(ev stream.Event) {
			switch ev.(type) {
			case stream.Done, stream.Error:
				// Reported once the run settles.
			default:
				send(ctx, out, ev)
			}
		},
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		send(ctx, out, stream.Error{Message: err.Error()})
		return
	}
	send(ctx, out, stream.Notice{Text: fmt.Sprintf("Subagent %s (run %s)", res.Agent, res.RunID)})
	send(ctx, out, stream.Done{})
}

// takeover runs the remaining tasks as an autopilot batch when the message
// asks to keep going and there is work left. It reports whether the turn
// was consumed.
func (o *Orchestrator) takeover(ctx context.Context, req Request, out chan<- stream.Event) bool {
	if o.cfg.ExecutionMode != ModeAutopilot || o.deps.Board == nil {
		return false
	}
	all := o.deps.Board.Tasks()
	open := openTasks(all)
	if len(open) == 0 {
		return false
	}

	key := req.key()
	verdict := o.deps.Fuse.Evaluate(key, req.Message, all)
	if !verdict.Execute() {
		return false
	}
	force := verdict.ForceStrongest()
	if !force {
		logging.Autopilot("fuse: nudge %d/%d recorded, waiting for confirmation", verdict.NudgeCount, autopilot.FuseThreshold)
	}

	send(ctx, out, stream.Notice{Text: fmt.Sprintf("Autopilot: executing %d remaining tasks", len(open))})
	if force {
		send(ctx, out, stream.Notice{Text: "Fuse tripped: this batch runs on the strongest model", Warning: true})
	}

	completed, err := o.runBatch(ctx, open, req.Context, force, out)
	if err != nil {
		logging.AutopilotWarn("batch interrupted: %v", err)
		return true
	}
	o.deps.Fuse.Reset(key)

	send(ctx, out, stream.Content{Text: fmt.Sprintf("Autopilot finished: %d of %d tasks completed.", completed, len(open))})
	send(ctx, out, stream.Done{})
	return true
}

// RunTasks executes every open task on the board. Progress is logged only.
func (o *Orchestrator) RunTasks(ctx context.Context, chatCtx types.ChatContext, force bool) (int, error) {
	if o.deps.Board == nil {
		return 0, fmt.Errorf("no task board configured")
	}
	return o.runBatch(ctx, openTasks(o.deps.Board.Tasks()), chatCtx, force, nil)
}

// runBatch runs tasks on a fresh pool whose progress is reported on out
// when out is non-nil.
func (o *Orchestrator) runBatch(ctx context.Context, tasks []types.Task, chatCtx types.ChatContext, force bool, out chan<- stream.Event) (int, error) {
	var delegator autopilot.Delegator
	if o.subagentsOn() {
		delegator = o.deps.Subagents
	}
	var observer autopilot.Observer
	if out != nil {
		observer = autopilot.Observer{
			TaskStarted: func(worker, index int, task types.Task, plan routing.Plan) {
				send(ctx, out, stream.Notice{Text: fmt.Sprintf("[worker-%d] %d/%d %s (%s)", worker, index+1, len(tasks), task.Title, plan.Model)})
			},
			TaskRetry: func(task types.Task, attempt int, err error) {
				send(ctx, out, stream.Notice{Text: fmt.Sprintf("%s: %s (retry %d)", task.Title, retry.FriendlyMessage(err), attempt), Warning: true})
			},
			TaskFinished: func(p autopilot.Progress) {
				if p.Completed {
					send(ctx, out, stream.Notice{Text: fmt.Sprintf("done %s: %s [%d/%d]", p.Task.Title, p.Summary, p.Finished, p.Total)})
					return
				}
				send(ctx, out, stream.Notice{Text: fmt.Sprintf("failed %s: %s [%d/%d]", p.Task.Title, p.Error, p.Finished, p.Total), Warning: true})
			},
		}
	}

	pool := autopilot.NewPool(autopilot.Deps{
		Tracker:   o.deps.Board,
		Writer:    o.deps.Writer,
		Router:    o.deps.Router,
		Delegator: delegator,
		Chat:      o.deps.Chat,
	}, o.cfg.Autopilot, observer)
	return pool.Run(ctx, tasks, chatCtx, force)
}

// delegate asks the routed subagent for an analysis and returns the user
// message enriched with it. A failed delegation leaves the message as is.
func (o *Orchestrator) delegate(ctx context.Context, plan routing.Plan, req Request, out chan<- stream.Event) string {
	send(ctx, out, stream.Notice{Text: fmt.Sprintf("Routed to subagent %s, analyzing...", subagent.ProfileFor(plan.Delegate))})

	thinking, search := plan.EnableThinking, plan.EnableWebSearch
	res, err := o.deps.Subagents.RunRouted(ctx, plan.Delegate, req.Message, req.Context, subagent.RunOptions{
		Model:           plan.Model,
		EnableThinking:  &thinking,
		EnableWebSearch: &search,
		MaxTokens:       plan.MaxTokens,
	})
	if err != nil {
		logging.SubagentWarn("delegation failed, continuing with the main flow: %v", err)
		return req.Message
	}

	analysis := res.Content
	if r := []rune(analysis); len(r) > maxDelegation {
		analysis = string(r[:maxDelegation])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Subagent analysis\n- name: %s\n- run: %s\n\n%s", res.Agent, res.RunID, analysis)
	b.WriteString("\n\n---\n\nUser question: ")
	b.WriteString(req.Message)
	return b.String()
}

// chat runs the turn through the session store with the routed options.
// Tool calls are executed when the turn is in agent mode and tools exist.
func (o *Orchestrator) chat(ctx context.Context, plan routing.Plan, req Request, message string, out chan<- stream.Event) {
	sessions := o.deps.Sessions
	id := req.SessionID
	switch {
	case id == "":
		if cur, ok := sessions.CurrentSession(); ok {
			id = cur.ID
		} else {
			id = sessions.CreateSession(gateway.BuildSystemPrompt(req.Context, req.AgentMode, req.Mode)).ID
			logging.Session("created session %s", id)
		}
	default:
		if _, err := sessions.Load(ctx, id); err != nil {
			logging.SessionWarn("session %s unavailable (%v), starting a new one", id, err)
			id = sessions.CreateSession(gateway.BuildSystemPrompt(req.Context, req.AgentMode, req.Mode)).ID
		}
	}

	opts := gateway.Options{
		Model:           plan.Model,
		MaxTokens:       plan.MaxTokens,
		EnableThinking:  plan.EnableThinking,
		EnableWebSearch: plan.EnableWebSearch,
		SessionID:       id,
	}
	tools := o.deps.Tools
	if req.AgentMode && tools != nil {
		opts.Tools = tools.Definitions()
	}

	events := sessions.StreamChatWithSession(ctx, message, req.Context, opts)
	for ev := range events {
		if !send(ctx, out, ev) {
			for range events {
			}
			return
		}
		if call, ok := ev.(stream.ToolCall); ok && opts.Tools != nil {
			if !send(ctx, out, tools.ExecuteCall(ctx, call.Call)) {
				for range events {
				}
				return
			}
		}
	}

	if stats := sessions.CacheStats(id); stats.CachedTokens > 0 {
		logging.Session("cache stats: %d/%d tokens cached (%s savings)", stats.CachedTokens, stats.TotalTokens, stats.SavingsString())
	}
}

func openTasks(all []types.Task) []types.Task {
	var open []types.Task
	for _, t := range all {
		if t.Open() {
			open = append(open, t)
		}
	}
	return open
}

func send(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
