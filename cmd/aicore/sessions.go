package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/config"
	"aicore/internal/session"
	"aicore/internal/store"
	"aicore/internal/types"
)

// sessionsCmd manages stored chat sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
	Long: `List, show and delete chat sessions saved in the workspace database.

Subcommands:
  list    - List saved sessions (default)
  show    - Print a session's messages
  delete  - Delete a session`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// openSessions returns a history-only session store over the workspace
// database.
func openSessions() (*session.Store, func(), error) {
	if !cfg.Session.Persist {
		return nil, nil, fmt.Errorf("session persistence is disabled (session.persist)")
	}
	db, err := store.Open(config.ResolvePath(workspace, cfg.Session.DatabasePath))
	if err != nil {
		return nil, nil, err
	}
	return session.NewStore(nil, session.WithPersister(db)), func() { db.Close() }, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, closeFn, err := openSessions()
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := sessions.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved sessions found.")
		return nil
	}

	st := ui.NewStyles()
	fmt.Fprintln(out, st.Title.Render("Saved sessions"))
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(empty)"
		}
		fmt.Fprintf(out, "%s\n  %s %s\n", s.ID, title, st.Muted.Render(fmt.Sprintf("(%d messages, %s)", s.Messages, s.UpdatedAt.Format("2006-01-02 15:04"))))
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "Total: %d sessions\n", len(list))
	fmt.Fprintln(out, st.Muted.Render("\nUse: aicore chat --session <session-id>"))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	sessions, closeFn, err := openSessions()
	if err != nil {
		return err
	}
	defer closeFn()

	sess, err := sessions.Load(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", args[0], err)
	}
	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	for _, m := range sess.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		fmt.Fprintln(out, st.Prompt.Render(string(m.Role)+":"))
		fmt.Fprintln(out, m.Content)
		fmt.Fprintln(out)
	}
	stats := sessions.CacheStats(sess.ID)
	if stats.TotalTokens > 0 {
		fmt.Fprintln(out, st.Muted.Render("Cache savings: "+stats.SavingsString()))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessions, closeFn, err := openSessions()
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := sessions.Load(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to load session %s: %w", args[0], err)
	}
	sessions.ClearSession(args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
