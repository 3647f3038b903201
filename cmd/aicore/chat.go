package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/logging"
	"aicore/internal/orchestrator"
	"aicore/internal/stream"
	"aicore/internal/types"
)

// chatCmd sends one message, or starts an interactive loop without args.
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with routing, subagents and autopilot",
	Long: `Send a message through the full pipeline: explicit subagent commands
("@agent: task", "resume <run-id>: task"), model routing, autopilot
takeover of pending tasks, subagent delegation and the session chat.

Without a message an interactive loop starts. Type /new for a fresh
session and /exit to quit.`,
	RunE: runChat,
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", string(types.ChatModeVibe), "Chat mode: vibe or spec")
	cmd.Flags().Bool("agent", false, "Agent mode: expose file tools to the model")
	cmd.Flags().String("session", "", "Resume a stored session by id")
	cmd.Flags().Bool("route", false, "Classify the request even when auto routing is off")
	cmd.Flags().StringSliceP("file", "f", nil, "Attach a file as context (repeatable)")
	cmd.Flags().Bool("plain", false, "Print answers without markdown rendering")
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, ctx, err := newApp(ctx, cfg, workspace, len(args) == 0)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := chatRequest(cmd)
	if err != nil {
		return err
	}
	if req.SessionID != "" {
		if _, err := a.sessions.Load(ctx, req.SessionID); err != nil {
			return fmt.Errorf("failed to load session %s: %w", req.SessionID, err)
		}
	}

	plain, _ := cmd.Flags().GetBool("plain")
	st := ui.NewStyles()
	md := ui.NewMarkdown(100, plain)
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		req.Message = strings.Join(args, " ")
		_, err := renderEvents(out, a.orch.Handle(ctx, req), st, md)
		return err
	}
	return chatLoop(ctx, a, req, cmd.InOrStdin(), out, st, md)
}

func chatRequest(cmd *cobra.Command) (orchestrator.Request, error) {
	mode, _ := cmd.Flags().GetString("mode")
	agent, _ := cmd.Flags().GetBool("agent")
	sessionID, _ := cmd.Flags().GetString("session")
	force, _ := cmd.Flags().GetBool("route")
	files, _ := cmd.Flags().GetStringSlice("file")

	switch types.ChatMode(mode) {
	case types.ChatModeVibe, types.ChatModeSpec:
	default:
		return orchestrator.Request{}, fmt.Errorf("invalid mode %q (valid: vibe, spec)", mode)
	}
	chatCtx, err := attachFiles(files)
	if err != nil {
		return orchestrator.Request{}, err
	}
	return orchestrator.Request{
		Context:    chatCtx,
		Mode:       types.ChatMode(mode),
		AgentMode:  agent,
		ForceRoute: force,
		SessionID:  sessionID,
	}, nil
}

func chatLoop(ctx context.Context, a *app, req orchestrator.Request, in io.Reader, out io.Writer, st ui.Styles, md *ui.Markdown) error {
	fmt.Fprintln(out, st.Title.Render("aicore")+st.Muted.Render(fmt.Sprintf("  model %s, /new for a fresh session, /exit to quit", a.cfg.Provider.Model)))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, st.Prompt.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			a.sessions.ClearSession(req.SessionID)
			req.SessionID = ""
			fmt.Fprintln(out, st.Muted.Render("Started a new session."))
			continue
		}

		turn := req
		turn.Message = line
		if _, err := renderEvents(out, a.orch.Handle(ctx, turn), st, md); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.APIWarn("turn failed: %v", err)
		}
		// Attachments belong to the first turn only.
		req.Context = types.ChatContext{}
	}
}

// renderEvents prints a response stream and returns the answer text. A
// stream error is printed and returned.
func renderEvents(w io.Writer, events <-chan stream.Event, st ui.Styles, md *ui.Markdown) (string, error) {
	var answer strings.Builder
	thinking := false
	text := func() string { return strings.TrimPrefix(answer.String(), stream.ThinkingSeparator) }
	flush := func() {
		if t := text(); t != "" {
			fmt.Fprint(w, md.Render(t))
		}
	}

	for ev := range events {
		switch e := ev.(type) {
		case stream.Thinking:
			if e.Start && !thinking {
				thinking = true
				fmt.Fprint(w, st.Thinking.Render(strings.TrimSpace(stream.ThinkingMarker))+"\n")
				continue
			}
			fmt.Fprint(w, st.Thinking.Render(e.Text))
		case stream.Content:
			if thinking {
				thinking = false
				fmt.Fprintln(w)
			}
			answer.WriteString(e.Text)
		case stream.ToolCall:
			fmt.Fprintln(w, st.Tool.Render(fmt.Sprintf("-> %s %s", e.Call.Function.Name, e.Call.Function.Arguments)))
		case stream.ToolResult:
			style := st.Tool
			if !e.Success {
				style = st.Warning
			}
			fmt.Fprintln(w, style.Render(fmt.Sprintf("<- %s", firstLine(e.Output))))
		case stream.WebSearch:
			if e.Summary != "" {
				fmt.Fprintln(w, st.Notice.Render(e.Summary))
			}
		case stream.Truncated:
			fmt.Fprintln(w, st.Warning.Render("Response truncated: "+e.Reason))
		case stream.Notice:
			if e.Warning {
				fmt.Fprintln(w, st.Warning.Render(e.Text))
			} else {
				fmt.Fprintln(w, st.Notice.Render(e.Text))
			}
		case stream.Done:
			flush()
			return text(), nil
		case stream.Error:
			flush()
			fmt.Fprintln(w, st.Error.Render("Error: "+e.Message))
			return text(), errors.New(e.Message)
		}
	}
	flush()
	return text(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "tsx",
	".rs":   "rust",
	".java": "java",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sh":   "bash",
	".sql":  "sql",
}

// attachFiles reads files into a chat context. Images are attached by path
// only so the router can detect vision input.
func attachFiles(paths []string) (types.ChatContext, error) {
	var chatCtx types.ChatContext
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		switch ext {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
			chatCtx.Files = append(chatCtx.Files, types.ContextFile{Path: p})
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return types.ChatContext{}, fmt.Errorf("failed to read %s: %w", p, err)
		}
		chatCtx.Files = append(chatCtx.Files, types.ContextFile{
			Path:     p,
			Content:  string(data),
			Language: languages[ext],
		})
	}
	return chatCtx, nil
}
