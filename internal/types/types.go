// Package types holds the data model shared by the orchestration core:
// chat messages, tool declarations, attached context, and the task entities
// owned by the external task tracker.
package types

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a tool to the provider. Exactly one of Function
// and WebSearch is set.
type ToolDefinition struct {
	Type      string         `json:"type"` // "function" or "web_search"
	Function  *FunctionSpec  `json:"function,omitempty"`
	WebSearch *WebSearchSpec `json:"web_search,omitempty"`
}

// FunctionSpec describes a callable function tool.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// WebSearchSpec enables the provider's built-in search tool.
type WebSearchSpec struct {
	Enable       bool   `json:"enable"`
	SearchEngine string `json:"search_engine,omitempty"`
	SearchResult bool   `json:"search_result"`
}

// WebSearchResult is one search hit.
type WebSearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Content string `json:"content"`
	Media   string `json:"media,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// ContextFile is a file (or excerpt) attached to a request.
type ContextFile struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Language  string `json:"language,omitempty"`
	LineRange string `json:"line_range,omitempty"`
}

// ChatContext is the attached material for a request.
type ChatContext struct {
	Files            []ContextFile
	WebSearchResults []WebSearchResult
}

// Clone returns a copy whose slices can be reassigned without touching the original.
func (c ChatContext) Clone() ChatContext {
	out := ChatContext{}
	if c.Files != nil {
		out.Files = append([]ContextFile(nil), c.Files...)
	}
	if c.WebSearchResults != nil {
		out.WebSearchResults = append([]WebSearchResult(nil), c.WebSearchResults...)
	}
	return out
}

// ChatMode selects the assistant persona.
type ChatMode string

const (
	ChatModeVibe ChatMode = "vibe"
	ChatModeSpec ChatMode = "spec"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of work owned by the external task tracker.
type Task struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Type        string     `json:"type" yaml:"type"`
	Status      TaskStatus `json:"status" yaml:"status"`
	Result      string     `json:"result,omitempty" yaml:"result,omitempty"`
}

// Open reports whether the task still needs execution.
func (t Task) Open() bool {
	return t.Status == TaskPending || t.Status == TaskBlocked
}

// TaskTracker mutates task status. Implemented outside the core.
type TaskTracker interface {
	StartTask(id string) error
	CompleteTask(id, summary string) error
	FailTask(id, reason string) error
}

// TaskBoard is a TaskTracker that also exposes the task list.
type TaskBoard interface {
	TaskTracker
	Tasks() []Task
	NextTask() (Task, bool)
}

// WriteResult reports the outcome of a file write.
type WriteResult struct {
	Success bool
	Output  string
}

// FileWriter materializes generated files. Implemented outside the core.
type FileWriter interface {
	WriteFile(ctx context.Context, path, content string) (WriteResult, error)
}
