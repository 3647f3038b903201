package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/config"
	"aicore/internal/extract"
	"aicore/internal/tasks"
	"aicore/internal/types"
	"aicore/internal/usage"
)

// tasksCmd manages the task board executed by autopilot
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage and execute the task board",
	Long: `The task board lives in .aicore/tasks.yaml. Autopilot executes every
pending task in parallel, routing each one and writing the files the model
returns.

Subcommands:
  list   - Show tasks and progress (default)
  add    - Append a pending task
  run    - Execute all open tasks
  reset  - Move failed and in-progress tasks back to pending`,
	RunE: runTasksList,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show tasks and progress",
	RunE:  runTasksList,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Append a pending task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTasksAdd,
}

var tasksRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute all open tasks",
	RunE:  runTasksRun,
}

var tasksResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Move failed and in-progress tasks back to pending",
	RunE:  runTasksReset,
}

func init() {
	tasksAddCmd.Flags().StringP("description", "d", "", "Task description")
	tasksAddCmd.Flags().String("type", "", "Task type, e.g. code, test, docs")
	tasksRunCmd.Flags().Bool("force", false, "Run every task on the strongest model")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksRunCmd)
	tasksCmd.AddCommand(tasksResetCmd)
}

func loadBoard() (*tasks.Board, error) {
	return tasks.Load(config.ResolvePath(workspace, cfg.Autopilot.TasksFile))
}

func runTasksList(cmd *cobra.Command, args []string) error {
	board, err := loadBoard()
	if err != nil {
		return err
	}
	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	all := board.Tasks()
	if len(all) == 0 {
		fmt.Fprintln(out, "No tasks. Add one with: aicore tasks add <title>")
		return nil
	}

	done, total := board.Progress()
	fmt.Fprintln(out, st.Title.Render(fmt.Sprintf("Tasks %d/%d", done, total)))
	for _, t := range all {
		fmt.Fprintf(out, "%s %s %s\n", statusMark(st, t.Status), st.Label.Render(t.ID), t.Title)
		if paths := extract.ChangedPaths(t.Description); len(paths) > 0 {
			fmt.Fprintln(out, st.Muted.Render("    files: "+strings.Join(paths, ", ")))
		}
		if t.Result != "" {
			fmt.Fprintln(out, st.Muted.Render("    "+firstLine(t.Result)))
		}
	}
	return nil
}

func statusMark(st ui.Styles, s types.TaskStatus) string {
	switch s {
	case types.TaskCompleted:
		return st.Title.Render("[x]")
	case types.TaskInProgress:
		return st.Notice.Render("[~]")
	case types.TaskFailed:
		return st.Error.Render("[!]")
	case types.TaskBlocked:
		return st.Warning.Render("[-]")
	}
	return st.Muted.Render("[ ]")
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	board, err := loadBoard()
	if err != nil {
		return err
	}
	desc, _ := cmd.Flags().GetString("description")
	kind, _ := cmd.Flags().GetString("type")
	t, err := board.Add(types.Task{Title: strings.Join(args, " "), Description: desc, Type: kind})
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s: %s\n", t.ID, t.Title)
	return nil
}

func runTasksRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, ctx, err := newApp(ctx, cfg, workspace, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = usage.WithLabels(ctx, "", "", "autopilot")

	force, _ := cmd.Flags().GetBool("force")
	open := 0
	for _, t := range a.board.Tasks() {
		if t.Open() {
			open++
		}
	}
	out := cmd.OutOrStdout()
	if open == 0 {
		fmt.Fprintln(out, "No open tasks.")
		return nil
	}

	st := ui.NewStyles()
	fmt.Fprintln(out, st.Notice.Render(fmt.Sprintf("Autopilot: executing %d tasks", open)))
	succeeded, err := a.orch.RunTasks(ctx, types.ChatContext{}, force)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, st.Title.Render(fmt.Sprintf("Autopilot finished: %d of %d tasks completed.", succeeded, open)))
	return nil
}

func runTasksReset(cmd *cobra.Command, args []string) error {
	board, err := loadBoard()
	if err != nil {
		return err
	}
	n, err := board.Reset()
	if err != nil {
		return fmt.Errorf("failed to reset tasks: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %d tasks to pending.\n", n)
	return nil
}
