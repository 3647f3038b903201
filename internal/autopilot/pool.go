// Package autopilot executes batches of tasks with a bounded worker pool and
// decides, through a stagnation fuse, when a batch must run on the strongest
// model.
package autopilot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"aicore/internal/extract"
	"aicore/internal/gateway"
	"aicore/internal/logging"
	"aicore/internal/retry"
	"aicore/internal/routing"
	"aicore/internal/stream"
	"aicore/internal/subagent"
	"aicore/internal/types"
)

const (
	maxGuidance     = 3000
	defaultMaxToken = 16384

	executorSystem = "You are a code generation agent. Output the result as JSON only, with no extra explanation."
)

// Router produces and escalates routing plans.
type Router interface {
	Route(ctx context.Context, message string, chatCtx types.ChatContext, mode types.ChatMode, isAgentMode, force bool) routing.Plan
	Escalate(p routing.Plan) routing.Plan
}

// Delegator asks a routed subagent for execution guidance.
type Delegator interface {
	RunRouted(ctx context.Context, delegate routing.Delegate, task string, chatCtx types.ChatContext, opts subagent.RunOptions) (subagent.Result, error)
}

// Chatter streams one completion.
type Chatter interface {
	StreamChat(ctx context.Context, messages []types.Message, chatCtx types.ChatContext, opts gateway.Options) <-chan stream.Event
}

// Config sizes the pool.
type Config struct {
	MaxWorkers int  // requested workers, clamped to the provider ceiling
	Parallel   bool // false runs one worker
	Retry      retry.Policy
}

// DefaultConfig runs three parallel workers with the default retry policy.
func DefaultConfig() Config {
	return Config{MaxWorkers: gateway.ProviderConcurrency, Parallel: true, Retry: retry.Default()}
}

// Progress reports one finished task.
type Progress struct {
	Worker    int
	Task      types.Task
	Plan      routing.Plan
	Completed bool
	Summary   string   // set when completed
	Files     []string // paths written
	Error     string   // friendly message when failed
	Finished  int      // tasks finished so far, this one included
	Succeeded int
	Total     int
}

// Observer receives pool notifications. Every field is optional; calls are
// serialized.
type Observer struct {
	TaskStarted  func(worker, index int, task types.Task, plan routing.Plan)
	TaskRetry    func(task types.Task, attempt int, err error)
	TaskFinished func(Progress)
}

// Deps are the pool's collaborators. Delegator and Writer may be nil.
type Deps struct {
	Tracker   types.TaskTracker
	Writer    types.FileWriter
	Router    Router
	Delegator Delegator
	Chat      Chatter
}

// Pool runs task batches.
type Pool struct {
	deps     Deps
	cfg      Config
	observer Observer

	mu sync.Mutex // serializes observer calls and counters
}

// NewPool creates a pool.
func NewPool(deps Deps, cfg Config, observer Observer) *Pool {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = retry.Default()
	}
	return &Pool{deps: deps, cfg: cfg, observer: observer}
}

// Workers is the number of concurrent workers a batch uses:
// max(1, min(ceiling, parallel ? configured : 1)).
func (p *Pool) Workers() int {
	requested := 1
	if p.cfg.Parallel {
		requested = p.cfg.MaxWorkers
	}
	if requested > gateway.ProviderConcurrency {
		logging.AutopilotWarn("parallel workers reduced from %d to %d by the provider concurrency limit", requested, gateway.ProviderConcurrency)
	}
	return max(1, min(gateway.ProviderConcurrency, requested))
}

// fileSpec is one generated file in the executor's JSON answer.
type fileSpec struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

type taskResult struct {
	Files   []fileSpec `json:"files"`
	Summary string     `json:"summary"`
}

// Run executes tasks and returns how many completed. Each task is claimed by
// exactly one worker through an atomic cursor. One task's failure never
// stops the batch. Cancellation stops claiming new tasks, leaves claimed
// ones in progress, and is returned as the error.
func (p *Pool) Run(ctx context.Context, tasks []types.Task, chatCtx types.ChatContext, force bool) (int, error) {
	workers := p.Workers()
	total := len(tasks)
	logging.Autopilot("executing %d tasks with %d workers (force=%t)", total, workers, force)

	timer := logging.StartTimer(logging.CategoryAutopilot, "Run")
	defer timer.Stop()

	var cursor atomic.Int64
	var finished, succeeded int

	var g errgroup.Group
	for w := 1; w <= workers; w++ {
		worker := w
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1) - 1)
				if i >= total {
					return nil
				}
				prog, ok := p.runTask(ctx, worker, i, tasks[i], chatCtx, force)
				if !ok {
					return ctx.Err()
				}

				p.mu.Lock()
				finished++
				if prog.Completed {
					succeeded++
				}
				prog.Finished, prog.Succeeded, prog.Total = finished, succeeded, total
				if p.observer.TaskFinished != nil {
					p.observer.TaskFinished(prog)
				}
				p.mu.Unlock()
				logging.Autopilot("progress: %d/%d finished, %d completed", prog.Finished, total, prog.Succeeded)
			}
		})
	}
	err := g.Wait()

	p.mu.Lock()
	done := succeeded
	p.mu.Unlock()
	return done, err
}

// runTask drives one task to completed or failed. It reports false only
// when ctx was cancelled mid-task.
func (p *Pool) runTask(ctx context.Context, worker, index int, task types.Task, chatCtx types.ChatContext, force bool) (Progress, bool) {
	if err := p.deps.Tracker.StartTask(task.ID); err != nil {
		logging.AutopilotWarn("start task %s: %v", task.ID, err)
	}

	routeInput := task.Title + "\n" + task.Description
	plan := p.deps.Router.Route(ctx, routeInput, chatCtx, types.ChatModeSpec, true, true)
	if force {
		plan = p.deps.Router.Escalate(plan)
	}
	p.notify(func() {
		if p.observer.TaskStarted != nil {
			p.observer.TaskStarted(worker, index, task, plan)
		}
	})
	logging.AutopilotDebug("[worker-%d] task %s: complexity=%s model=%s delegate=%s", worker, task.ID, plan.Complexity, plan.Model, plan.Delegate)

	guidance := p.guidance(ctx, routeInput, chatCtx, plan)

	policy := p.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		logging.AutopilotWarn("task %s retry %d/%d: %v", task.ID, attempt, policy.MaxRetries, err)
		p.notify(func() {
			if p.observer.TaskRetry != nil {
				p.observer.TaskRetry(task, attempt, err)
			}
		})
	}
	messages := []types.Message{
		types.SystemMessage(executorSystem),
		types.UserMessage(taskPrompt(task, guidance)),
	}
	opts := gateway.Options{
		Model:           plan.Model,
		MaxTokens:       plan.MaxTokens,
		EnableThinking:  plan.EnableThinking,
		EnableWebSearch: plan.EnableWebSearch,
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxToken
	}

	result, err := retry.Do(ctx, policy, func(ctx context.Context) (taskResult, error) {
		text, err := stream.Collect(p.deps.Chat.StreamChat(ctx, messages, chatCtx, opts))
		if err != nil {
			return taskResult{}, err
		}
		if ctx.Err() != nil {
			return taskResult{}, ctx.Err()
		}
		var res taskResult
		if err := extract.Decode(text, &res); err != nil {
			return taskResult{}, fmt.Errorf("%w: %v", retry.ErrFormat, err)
		}
		return res, nil
	})
	if ctx.Err() != nil {
		logging.AutopilotWarn("task %s cancelled, left in progress", task.ID)
		return Progress{}, false
	}

	prog := Progress{Worker: worker, Task: task, Plan: plan}
	if err != nil {
		prog.Error = retry.FinalMessage(err, policy.MaxRetries)
		logging.AutopilotError("task %s failed after retries (%s): %v", task.ID, retry.Classify(err), err)
		if ferr := p.deps.Tracker.FailTask(task.ID, prog.Error); ferr != nil {
			logging.AutopilotWarn("fail task %s: %v", task.ID, ferr)
		}
		return prog, true
	}

	prog.Files = p.writeFiles(ctx, task, result.Files)
	prog.Summary = result.Summary
	if prog.Summary == "" {
		prog.Summary = "Task completed"
	}
	prog.Completed = true
	if err := p.deps.Tracker.CompleteTask(task.ID, prog.Summary); err != nil {
		logging.AutopilotWarn("complete task %s: %v", task.ID, err)
	}
	return prog, true
}

// guidance asks the routed subagent for execution advice. Failures only
// cost the advice.
func (p *Pool) guidance(ctx context.Context, routeInput string, chatCtx types.ChatContext, plan routing.Plan) string {
	if p.deps.Delegator == nil {
		return ""
	}
	thinking, search := plan.EnableThinking, plan.EnableWebSearch
	res, err := p.deps.Delegator.RunRouted(ctx,
		plan.Delegate,
		"Produce high-quality execution guidance for the task below, focused on actionable steps and risks:\n\n"+routeInput,
		chatCtx,
		subagent.RunOptions{Model: plan.Model, EnableThinking: &thinking, EnableWebSearch: &search, MaxTokens: plan.MaxTokens},
	)
	if err != nil {
		logging.AutopilotWarn("subagent guidance unavailable: %v", err)
		return ""
	}
	if r := []rune(res.Content); len(r) > maxGuidance {
		return string(r[:maxGuidance])
	}
	return res.Content
}

func (p *Pool) writeFiles(ctx context.Context, task types.Task, files []fileSpec) []string {
	if p.deps.Writer == nil {
		if len(files) > 0 {
			logging.AutopilotWarn("task %s: no file writer configured, %d files dropped", task.ID, len(files))
		}
		return nil
	}
	var written []string
	for _, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			continue
		}
		res, err := p.deps.Writer.WriteFile(ctx, f.Path, f.Content)
		switch {
		case err != nil:
			logging.AutopilotWarn("task %s: failed to write %s: %v", task.ID, f.Path, err)
		case !res.Success:
			logging.AutopilotWarn("task %s: failed to write %s: %s", task.ID, f.Path, res.Output)
		default:
			written = append(written, f.Path)
		}
	}
	return written
}

func (p *Pool) notify(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func taskPrompt(task types.Task, guidance string) string {
	var b strings.Builder
	b.WriteString("You are a professional development agent. Carry out the task below and generate the code.\n\n")
	fmt.Fprintf(&b, "## Task\n**Title**: %s\n**Description**: %s\n**Type**: %s\n", task.Title, task.Description, task.Type)
	if paths := extract.ChangedPaths(task.Description); len(paths) > 0 {
		fmt.Fprintf(&b, "**Files**: %s\n", strings.Join(paths, ", "))
	}
	b.WriteString("\n")
	b.WriteString("## Requirements\n1. Produce complete, working code\n2. Include the necessary comments\n3. Follow established conventions\n")
	if guidance != "" {
		fmt.Fprintf(&b, "\n## Subagent guidance\n%s\n", guidance)
	}
	b.WriteString(`
## Output format
Reply with JSON:
{
  "files": [
    {"path": "file path", "content": "file content", "language": "language"}
  ],
  "summary": "short description of what was done"
}`)
	return b.String()
}
