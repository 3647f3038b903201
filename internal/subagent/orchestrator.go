package subagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/routing"
	"aicore/internal/stream"
	"aicore/internal/types"
)

var (
	// ErrUnknownRun is returned when resuming a run id that does not exist.
	ErrUnknownRun = errors.New("unknown agent id")
	// ErrProfileNotFound is returned for an unknown profile name.
	ErrProfileNotFound = errors.New("subagent not found")
	// ErrNoWorkspace is returned when no workspace directory is configured.
	ErrNoWorkspace = errors.New("no workspace folder available for subagents")
)

const (
	defaultRunMaxTokens = 16384
	resumeTask          = "Continue the previous task and report the current conclusion and suggested next steps."
	invokeTask          = "Carry out this subagent's default responsibility and return a structured result."
	emptyReply          = "(The subagent ran but returned no visible text.)"
)

// Streamer issues a chat call with bounded continuation.
type Streamer interface {
	StreamChatWithContinuation(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts gateway.Options, maxContinuations int) <-chan stream.Event
}

// RunStore persists runs so they can be resumed by a later process.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	LoadRun(ctx context.Context, id string) (*Run, error)
}

// Run is one subagent conversation. Its history is never merged into a
// main session.
type Run struct {
	ID         string
	Profile    string
	Messages   []types.Message
	LastUsedAt time.Time
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	c := *r
	c.Messages = types.CloneMessages(r.Messages)
	return &c
}

// Result is the outcome of one subagent turn.
type Result struct {
	RunID   string
	Agent   string
	Content string
}

// RunOptions override a profile's defaults for one turn. Nil flags mean
// "on". OnEvent, when set, observes every stream event as it arrives.
type RunOptions struct {
	Model           string
	EnableThinking  *bool
	EnableWebSearch *bool
	MaxTokens       int
	OnEvent         func(stream.Event)
}

// Orchestrator owns profiles and runs for one workspace.
type Orchestrator struct {
	workspace        string
	streamer         Streamer
	runStore         RunStore
	maxContinuations int

	mu   sync.Mutex
	runs map[string]*Run

	profileMu sync.RWMutex
	profiles  map[string]Profile // nil when stale
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRunStore persists runs through rs.
func WithRunStore(rs RunStore) Option {
	return func(o *Orchestrator) { o.runStore = rs }
}

// WithMaxContinuations sets the continuation bound for subagent turns.
func WithMaxContinuations(n int) Option {
	return func(o *Orchestrator) { o.maxContinuations = n }
}

// New creates an orchestrator rooted at workspace.
func New(workspace string, streamer Streamer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workspace:        workspace,
		streamer:         streamer,
		maxContinuations: gateway.DefaultMaxContinuations,
		runs:             make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Root returns the profile directory: .agents/agents, or .cursor/agents when
// only that one exists.
func (o *Orchestrator) Root() (string, error) {
	if o.workspace == "" {
		return "", ErrNoWorkspace
	}
	neutral := filepath.Join(o.workspace, ".agents", "agents")
	if isDir(neutral) {
		return neutral, nil
	}
	if cursor := filepath.Join(o.workspace, ".cursor", "agents"); isDir(cursor) {
		return cursor, nil
	}
	return neutral, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureDefaults writes the default profiles when the profile directory has
// none.
func (o *Orchestrator) EnsureDefaults() error {
	root, err := o.Root()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	existing, err := o.profileMap()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := DefaultProfiles()
	for _, p := range defaults {
		data, err := p.Render()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(root, p.Name+".md"), data, 0o644); err != nil {
			return fmt.Errorf("write default profile %s: %w", p.Name, err)
		}
	}
	o.Invalidate()
	logging.Subagent("bootstrapped %d default subagents at %s", len(defaults), root)
	return nil
}

// Invalidate drops the cached profiles; the next lookup rereads the directory.
func (o *Orchestrator) Invalidate() {
	o.profileMu.Lock()
	o.profiles = nil
	o.profileMu.Unlock()
}

func (o *Orchestrator) profileMap() (map[string]Profile, error) {
	o.profileMu.RLock()
	cached := o.profiles
	o.profileMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	root, err := o.Root()
	if err != nil {
		return nil, err
	}
	loaded, err := loadProfiles(root)
	if err != nil {
		return nil, err
	}
	o.profileMu.Lock()
	o.profiles = loaded
	o.profileMu.Unlock()
	logging.SubagentDebug("loaded %d subagent profiles from %s", len(loaded), root)
	return loaded, nil
}

// Profiles lists the available profiles by name.
func (o *Orchestrator) Profiles() ([]Profile, error) {
	m, err := o.profileMap()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Profile looks up one profile by name.
func (o *Orchestrator) Profile(name string) (Profile, error) {
	m, err := o.profileMap()
	if err != nil {
		return Profile{}, err
	}
	p, ok := m[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// RunExplicit executes a parsed user command. Resuming an unknown run id
// returns ErrUnknownRun.
func (o *Orchestrator) RunExplicit(ctx context.Context, cmd Command, chatCtx types.ChatContext, opts RunOptions) (Result, error) {
	if err := o.EnsureDefaults(); err != nil {
		return Result{}, err
	}

	switch cmd.Kind {
	case Resume:
		run, err := o.lookupRun(ctx, cmd.RunID)
		if err != nil {
			return Result{}, err
		}
		task := cmd.Task
		if task == "" {
			task = resumeTask
		}
		return o.execute(ctx, run.Profile, task, chatCtx, run, opts)
	case Invoke:
		task := cmd.Task
		if task == "" {
			task = invokeTask
		}
		return o.execute(ctx, cmd.Name, task, chatCtx, nil, opts)
	default:
		return Result{}, fmt.Errorf("unsupported subagent command kind %d", cmd.Kind)
	}
}

// ProfileFor maps a routing delegate to its profile name.
func ProfileFor(d routing.Delegate) string {
	switch d {
	case routing.PlanningAgent:
		return "planning-agent"
	case routing.ImplementationAgent:
		return "implementation-agent"
	default:
		return "quick-responder"
	}
}

// RunRouted starts a fresh run of the profile paired with delegate.
func (o *Orchestrator) RunRouted(ctx context.Context, delegate routing.Delegate, task string, chatCtx types.ChatContext, opts RunOptions) (Result, error) {
	if err := o.EnsureDefaults(); err != nil {
		return Result{}, err
	}
	return o.execute(ctx, ProfileFor(delegate), task, chatCtx, nil, opts)
}

func (o *Orchestrator) lookupRun(ctx context.Context, id string) (*Run, error) {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		return run.Clone(), nil
	}
	if o.runStore != nil {
		if stored, err := o.runStore.LoadRun(ctx, id); err == nil {
			return stored, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
}

// execute runs one turn on a private copy of the run and commits it only
// when the stream completes cleanly.
func (o *Orchestrator) execute(ctx context.Context, name, task string, chatCtx types.ChatContext, existing *Run, opts RunOptions) (Result, error) {
	profile, err := o.Profile(name)
	if err != nil {
		return Result{}, err
	}
	if o.streamer == nil {
		return Result{}, errors.New("subagent orchestrator has no chat streamer")
	}

	run := existing
	if run == nil {
		run = &Run{
			ID:       "sa_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
			Profile:  profile.Name,
			Messages: []types.Message{types.SystemMessage(profile.SystemPrompt())},
		}
	}
	run.Messages = append(run.Messages, types.UserMessage(task))

	model := opts.Model
	if model == "" && profile.Model != InheritModel {
		model = profile.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRunMaxTokens
	}
	gwOpts := gateway.Options{
		Model:           model,
		MaxTokens:       maxTokens,
		EnableThinking:  flag(opts.EnableThinking),
		EnableWebSearch: flag(opts.EnableWebSearch),
		SessionID:       run.ID,
	}

	logging.Subagent("running %s (run %s, model=%q)", profile.Name, run.ID, model)
	timer := logging.StartTimer(logging.CategorySubagent, "execute")
	defer timer.Stop()

	events := o.streamer.StreamChatWithContinuation(ctx, types.CloneMessages(run.Messages), chatCtx, gwOpts, o.maxContinuations)
	var content strings.Builder
	var streamErr error
	for ev := range events {
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		switch e := ev.(type) {
		case stream.Content:
			content.WriteString(e.Text)
		case stream.Error:
			streamErr = &stream.StreamError{Message: e.Message}
		case stream.Thinking, stream.ToolCall, stream.ToolResult, stream.WebSearch, stream.Truncated, stream.Notice, stream.Done:
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if streamErr != nil {
		logging.SubagentWarn("subagent %s failed: %v", profile.Name, streamErr)
		return Result{}, streamErr
	}

	reply := strings.TrimPrefix(content.String(), stream.ThinkingSeparator)
	run.Messages = append(run.Messages, types.AssistantMessage(reply))
	run.LastUsedAt = time.Now()

	o.mu.Lock()
	o.runs[run.ID] = run.Clone()
	o.mu.Unlock()
	if o.runStore != nil {
		if err := o.runStore.SaveRun(ctx, run); err != nil {
			logging.SubagentWarn("failed to persist run %s: %v", run.ID, err)
		}
	}

	if reply == "" {
		reply = emptyReply
	}
	return Result{RunID: run.ID, Agent: profile.Name, Content: reply}, nil
}

func flag(v *bool) bool { return v == nil || *v }

// Runs returns copies of the runs of this process, most recent first.
func (o *Orchestrator) Runs() []*Run {
	o.mu.Lock()
	out := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, r.Clone())
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out
}
