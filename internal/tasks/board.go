// Package tasks provides a file-backed task board: the list of tasks the
// autopilot executes and the status transitions it records.
package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"aicore/internal/logging"
	"aicore/internal/types"
)

var (
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskCompleted is returned when starting a task that already completed.
	ErrTaskCompleted = errors.New("task already completed")
)

// boardFile is the on-disk layout.
type boardFile struct {
	Tasks []types.Task `yaml:"tasks"`
}

// Board is a TaskBoard kept in memory and, when it has a path, mirrored to
// a YAML file after every mutation. It is safe for concurrent use.
type Board struct {
	mu    sync.Mutex
	path  string
	tasks []types.Task
}

var _ types.TaskBoard = (*Board)(nil)

// New returns an in-memory board holding a copy of tasks.
func New(tasks []types.Task) *Board {
	return &Board{tasks: append([]types.Task(nil), tasks...)}
}

// Load reads the board at path. A missing file yields an empty board that
// is created on first save.
func Load(path string) (*Board, error) {
	b := &Board{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task board: %w", err)
	}

	var f boardFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task board %s: %w", path, err)
	}
	for i := range f.Tasks {
		if f.Tasks[i].ID == "" {
			f.Tasks[i].ID = "task-" + strconv.Itoa(i+1)
		}
		if f.Tasks[i].Status == "" {
			f.Tasks[i].Status = types.TaskPending
		}
	}
	b.tasks = f.Tasks
	logging.AutopilotDebug("loaded %d tasks from %s", len(b.tasks), path)
	return b, nil
}

// Path returns the backing file, or "" for an in-memory board.
func (b *Board) Path() string { return b.path }

// Tasks returns a snapshot of every task in board order.
func (b *Board) Tasks() []types.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Task(nil), b.tasks...)
}

// NextTask returns the first task still needing execution.
func (b *Board) NextTask() (types.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if t.Open() {
			return t, true
		}
	}
	return types.Task{}, false
}

// Open returns the tasks still needing execution, in board order.
func (b *Board) Open() []types.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	var open []types.Task
	for _, t := range b.tasks {
		if t.Open() {
			open = append(open, t)
		}
	}
	return open
}

// Progress counts completed tasks against the total.
func (b *Board) Progress() (completed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if t.Status == types.TaskCompleted {
			completed++
		}
	}
	return completed, len(b.tasks)
}

// Add appends a pending task, assigning an id when t has none.
func (b *Board) Add(t types.Task) (types.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.ID == "" {
		t.ID = "task-" + strconv.Itoa(len(b.tasks)+1)
	}
	for _, existing := range b.tasks {
		if existing.ID == t.ID {
			return types.Task{}, fmt.Errorf("duplicate task id %q", t.ID)
		}
	}
	t.Status = types.TaskPending
	t.Result = ""
	b.tasks = append(b.tasks, t)
	return t, b.saveLocked()
}

// StartTask marks a task in progress.
func (b *Board) StartTask(id string) error {
	return b.update(id, func(t *types.Task) error {
		if t.Status == types.TaskCompleted {
			return fmt.Errorf("%w: %s", ErrTaskCompleted, id)
		}
		t.Status = types.TaskInProgress
		t.Result = ""
		return nil
	})
}

// CompleteTask marks a task completed with a summary.
func (b *Board) CompleteTask(id, summary string) error {
	return b.update(id, func(t *types.Task) error {
		t.Status = types.TaskCompleted
		t.Result = summary
		return nil
	})
}

// FailTask marks a task failed with a reason.
func (b *Board) FailTask(id, reason string) error {
	return b.update(id, func(t *types.Task) error {
		t.Status = types.TaskFailed
		t.Result = reason
		return nil
	})
}

// Reset puts failed and in-progress tasks back to pending so the next
// batch picks them up again. It returns how many were reset.
func (b *Board) Reset() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := range b.tasks {
		switch b.tasks[i].Status {
		case types.TaskFailed, types.TaskInProgress:
			b.tasks[i].Status = types.TaskPending
			b.tasks[i].Result = ""
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, b.saveLocked()
}

func (b *Board) update(id string, fn func(*types.Task) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.tasks {
		if b.tasks[i].ID != id {
			continue
		}
		if err := fn(&b.tasks[i]); err != nil {
			return err
		}
		return b.saveLocked()
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// saveLocked writes the board through a temp file and rename so readers
// never see a torn file.
func (b *Board) saveLocked() error {
	if b.path == "" {
		return nil
	}
	data, err := yaml.Marshal(boardFile{Tasks: b.tasks})
	if err != nil {
		return fmt.Errorf("encode task board: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create task board dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task board: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace task board: %w", err)
	}
	return nil
}
