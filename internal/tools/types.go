// Package tools provides the function tools offered to the model in agent
// mode and the workspace-confined file writer used by autopilot.
//
// Architecture:
//
//	ToolCall → Registry.ExecuteCall() → Tool.Execute() → stream.ToolResult
package tools

import (
	"context"

	"aicore/internal/types"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines a function the model may call.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does to the model.
	Description string

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Mutates marks tools that change the workspace. Callers running in
	// supervised mode confirm these before execution.
	Mutates bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition renders the tool in the provider's function-tool format.
func (t *Tool) Definition() types.ToolDefinition {
	props := make(map[string]any, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		props[name] = p
	}
	required := t.Schema.Required
	if required == nil {
		required = []string{}
	}
	return types.ToolDefinition{
		Type: "function",
		Function: &types.FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
