package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aicore/internal/logging"
	"aicore/internal/types"
)

// Workspace confines file tools to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace roots a workspace at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a model-supplied path to an absolute path inside the
// workspace. Relative paths are taken from the root.
func (w *Workspace) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: path", ErrMissingRequiredArg)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return path, nil
}

// Register adds read_file, write_file and edit_file for this workspace.
func (w *Workspace) Register(r *Registry) error {
	for _, tool := range []*Tool{w.ReadFileTool(), w.WriteFileTool(), w.EditFileTool()} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// ReadFileTool returns a tool for reading file contents.
func (w *Workspace) ReadFileTool() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace",
		Execute:     w.executeReadFile,
		Schema: ToolSchema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "The file path to read, relative to the workspace root",
				},
				"start_line": {
					Type:        "integer",
					Description: "Starting line number (1-indexed, optional)",
				},
				"end_line": {
					Type:        "integer",
					Description: "Ending line number (inclusive, optional)",
				},
			},
		},
	}
}

func (w *Workspace) executeReadFile(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	path, err := w.Resolve(raw)
	if err != nil {
		return "", err
	}
	logging.ToolsDebug("read_file: path=%s", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	result := string(content)

	startLine, hasStart := toInt(args["start_line"])
	endLine, hasEnd := toInt(args["end_line"])
	if hasStart || hasEnd {
		lines := strings.Split(result, "\n")
		if !hasStart {
			startLine = 1
		}
		if !hasEnd || endLine > len(lines) {
			endLine = len(lines)
		}
		startLine = max(startLine-1, 0)
		if startLine >= endLine {
			return "", nil
		}
		result = strings.Join(lines[startLine:endLine], "\n")
	}

	logging.Tools("read_file completed: %s (%d bytes)", path, len(result))
	return result, nil
}

// WriteFileTool returns a tool for writing content to a file.
func (w *Workspace) WriteFileTool() *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating it and its directories if needed",
		Execute:     w.executeWriteFile,
		Mutates:     true,
		Schema: ToolSchema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "The file path to write, relative to the workspace root",
				},
				"content": {
					Type:        "string",
					Description: "The content to write",
				},
			},
		},
	}
}

func (w *Workspace) executeWriteFile(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	content, _ := args["content"].(string)
	path, err := w.Resolve(raw)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), w.rel(path)), nil
}

// EditFileTool returns a tool for editing files with search/replace.
func (w *Workspace) EditFileTool() *Tool {
	return &Tool{
		Name:        "edit_file",
		Description: "Edit a file in the workspace by replacing text",
		Execute:     w.executeEditFile,
		Mutates:     true,
		Schema: ToolSchema{
			Required: []string{"path", "old_text", "new_text"},
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "The file path to edit, relative to the workspace root",
				},
				"old_text": {
					Type:        "string",
					Description: "The text to find and replace",
				},
				"new_text": {
					Type:        "string",
					Description: "The replacement text",
				},
				"replace_all": {
					Type:        "boolean",
					Description: "Replace all occurrences (default: false, replaces first only)",
					Default:     false,
				},
			},
		},
	}
}

func (w *Workspace) executeEditFile(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	path, err := w.Resolve(raw)
	if err != nil {
		return "", err
	}
	oldText, _ := args["old_text"].(string)
	if oldText == "" {
		return "", fmt.Errorf("%w: old_text", ErrMissingRequiredArg)
	}
	newText, _ := args["new_text"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)
	count := strings.Count(text, oldText)
	if count == 0 {
		return "", fmt.Errorf("old_text not found in %s", w.rel(path))
	}

	n := 1
	if replaceAll {
		n = -1
	} else {
		count = 1
	}
	if err := writeFile(path, strings.Replace(text, oldText, newText, n)); err != nil {
		return "", err
	}
	logging.Tools("edit_file completed: %s (%d replacements)", path, count)
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, w.rel(path)), nil
}

func (w *Workspace) rel(path string) string {
	if rel, err := filepath.Rel(w.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logging.ToolsDebug("wrote %s (%d bytes)", path, len(content))
	return nil
}

// Writer adapts a Workspace to the FileWriter collaborator used by
// autopilot.
type Writer struct {
	ws *Workspace
}

// NewWriter returns a FileWriter confined to ws.
func NewWriter(ws *Workspace) *Writer {
	return &Writer{ws: ws}
}

var _ types.FileWriter = (*Writer)(nil)

// WriteFile writes content under the workspace. Rejected paths and I/O
// failures are reported in the result; only cancellation is an error.
func (w *Writer) WriteFile(ctx context.Context, path, content string) (types.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return types.WriteResult{}, err
	}
	out, err := w.ws.executeWriteFile(ctx, map[string]any{"path": path, "content": content})
	if err != nil {
		logging.ToolsWarn("write %s rejected: %v", path, err)
		return types.WriteResult{Success: false, Output: err.Error()}, nil
	}
	return types.WriteResult{Success: true, Output: out}, nil
}
