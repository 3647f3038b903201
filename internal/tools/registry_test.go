package tools

import (
	"context"
	"errors"
	"testing"

	"aicore/internal/stream"
	"aicore/internal/types"
)

func nop(ctx context.Context, args map[string]any) (string, error) { return "", nil }

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "success", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
	if !reg.Has("test_tool") || reg.Has("other") {
		t.Error("Has disagrees with registration")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	tool := &Tool{Name: "dupe", Execute: nop}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{name: "empty name", tool: &Tool{Name: "", Execute: nop}, wantErr: ErrToolNameEmpty},
		{name: "nil execute", tool: &Tool{Name: "test", Execute: nil}, wantErr: ErrToolExecuteNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.tool); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			msg, _ := args["message"].(string)
			return "Echo: " + msg, nil
		},
		Schema: ToolSchema{
			Required:   []string{"message"},
			Properties: map[string]Property{"message": {Type: "string"}},
		},
	})

	result, err := reg.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result != "Echo: hello" {
		t.Errorf("got result %q, want %q", result.Result, "Echo: hello")
	}
	if !result.IsSuccess() {
		t.Error("expected IsSuccess to be true")
	}

	if _, err := reg.Execute(context.Background(), "echo", map[string]any{}); !errors.Is(err, ErrMissingRequiredArg) {
		t.Errorf("expected ErrMissingRequiredArg, got %v", err)
	}
	if _, err := reg.Execute(context.Background(), "echo", map[string]any{"message": 3.0}); !errors.Is(err, ErrInvalidArgType) {
		t.Errorf("expected ErrInvalidArgType, got %v", err)
	}
	if _, err := reg.Execute(context.Background(), "nonexistent", map[string]any{}); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "zeta", Description: "last", Execute: nop})
	reg.MustRegister(&Tool{
		Name:        "alpha",
		Description: "first",
		Execute:     nop,
		Schema: ToolSchema{
			Required:   []string{"path"},
			Properties: map[string]Property{"path": {Type: "string", Description: "where"}},
		},
	})

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Errorf("definitions not sorted by name: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	if defs[0].Type != "function" {
		t.Errorf("type = %q, want function", defs[0].Type)
	}
	params := defs[0].Function.Parameters
	if params["type"] != "object" {
		t.Errorf("parameters type = %v", params["type"])
	}
	if req, _ := params["required"].([]string); len(req) != 1 || req[0] != "path" {
		t.Errorf("required = %v", params["required"])
	}
	if req, _ := defs[1].Function.Parameters["required"].([]string); req == nil {
		t.Error("required must encode as an empty array, not null")
	}
}

func TestExecuteCall(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return args["message"].(string), nil
		},
		Schema: ToolSchema{Required: []string{"message"}},
	})

	call := func(name, args string) types.ToolCall {
		return types.ToolCall{ID: "call_1", Type: "function", Function: types.FunctionCall{Name: name, Arguments: args}}
	}

	tests := []struct {
		name string
		call types.ToolCall
		want stream.ToolResult
	}{
		{"ok", call("echo", `{"message":"hi"}`), stream.ToolResult{ID: "call_1", Output: "hi", Success: true}},
		{"bad json", call("echo", `{"message":`), stream.ToolResult{ID: "call_1", Output: ErrInvalidArguments.Error()}},
		{"unknown", call("nope", ``), stream.ToolResult{ID: "call_1", Output: "tool not found: nope"}},
		{"missing arg", call("echo", ``), stream.ToolResult{ID: "call_1", Output: "missing required argument: message"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.ExecuteCall(context.Background(), tt.call); got != tt.want {
				t.Errorf("ExecuteCall = %+v, want %+v", got, tt.want)
			}
		})
	}
}
