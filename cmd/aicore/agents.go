package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/stream"
	"aicore/internal/subagent"
	"aicore/internal/types"
)

// agentsCmd manages subagent profiles and runs
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List and run subagent profiles",
	Long: `Subagents are markdown profiles under .aicore/agents. Each run keeps
its own private history and can be resumed by id.

Subcommands:
  list    - List profiles (default)
  run     - Start a run of a profile
  resume  - Continue an earlier run
  runs    - List stored runs`,
	RunE: runAgentsList,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subagent profiles",
	RunE:  runAgentsList,
}

var agentsRunCmd = &cobra.Command{
	Use:   "run <profile> <task>",
	Short: "Start a run of a profile",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAgentsRun,
}

var agentsResumeCmd = &cobra.Command{
	Use:   "resume <run-id> <task>",
	Short: "Continue an earlier run",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAgentsRun,
}

var agentsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	RunE:  runAgentsRuns,
}

func init() {
	agentsRunCmd.Flags().String("model", "", "Override the profile's model")
	agentsResumeCmd.Flags().String("model", "", "Override the profile's model")
	agentsRunsCmd.Flags().Int("limit", 20, "Maximum runs to list")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsRunCmd)
	agentsCmd.AddCommand(agentsResumeCmd)
	agentsCmd.AddCommand(agentsRunsCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	agents := subagent.New(workspace, nil)
	if err := agents.EnsureDefaults(); err != nil {
		return fmt.Errorf("failed to create default profiles: %w", err)
	}
	profiles, err := agents.Profiles()
	if err != nil {
		return err
	}

	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, st.Title.Render("Subagent profiles"))
	for _, p := range profiles {
		model := p.Model
		if model == "" {
			model = "default"
		}
		flags := ""
		if p.ReadOnly {
			flags = " read-only"
		}
		fmt.Fprintf(out, "%s%s %s\n", st.Label.Render(p.Name), p.Description, st.Muted.Render("("+model+flags+")"))
	}
	fmt.Fprintln(out, st.Muted.Render("\nUse: aicore agents run <profile> <task>, or \"@<profile>: <task>\" in chat"))
	return nil
}

func runAgentsRun(cmd *cobra.Command, args []string) error {
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
	if err := a.agents.EnsureDefaults(); err != nil {
		return fmt.Errorf("failed to create default profiles: %w", err)
	}

	command := subagent.Command{Kind: subagent.Invoke, Name: args[0], Task: strings.Join(args[1:], " ")}
	if cmd.Name() == "resume" {
		command = subagent.Command{Kind: subagent.Resume, RunID: args[0], Task: strings.Join(args[1:], " ")}
	}
	model, _ := cmd.Flags().GetString("model")

	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	res, err := a.agents.RunExplicit(ctx, command, types.ChatContext{}, subagent.RunOptions{
		Model: model,
		OnEvent: func(ev stream.Event) {
			switch e := ev.(type) {
			case stream.Thinking:
				fmt.Fprint(out, st.Thinking.Render(e.Text))
			case stream.Content:
				fmt.Fprint(out, e.Text)
			case stream.Notice:
				fmt.Fprintln(out, st.Notice.Render(e.Text))
			}
		},
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, st.Muted.Render(fmt.Sprintf("Subagent %s (run %s)", res.Agent, res.RunID)))
	return nil
}

func runAgentsRuns(cmd *cobra.Command, args []string) error {
	a, _, err := newApp(cmd.Context(), cfg, workspace, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.db == nil {
		return fmt.Errorf("run history needs session.persist enabled")
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.db.ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No subagent runs found.")
		return nil
	}
	fmt.Fprintln(out, st.Title.Render("Subagent runs"))
	for _, r := range runs {
		fmt.Fprintf(out, "%s %-12s %3d messages  %s\n", r.ID, r.Profile, len(r.Messages), st.Muted.Render(r.LastUsedAt.Format("2006-01-02 15:04")))
	}
	return nil
}
