package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/routing"
	"aicore/internal/types"
	"aicore/internal/usage"
)

// routeCmd shows the routing plan for a message without running it.
var routeCmd = &cobra.Command{
	Use:   "route <message>",
	Short: "Show how a message would be routed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().String("mode", string(types.ChatModeVibe), "Chat mode: vibe or spec")
	routeCmd.Flags().Bool("agent", false, "Route as an agent-mode request")
	routeCmd.Flags().Bool("escalate", false, "Also show the escalated plan")
	routeCmd.Flags().StringSliceP("file", "f", nil, "Attach a file as context (repeatable)")
}

func runRoute(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, _ := cmd.Flags().GetString("mode")
	agent, _ := cmd.Flags().GetBool("agent")
	escalate, _ := cmd.Flags().GetBool("escalate")
	files, _ := cmd.Flags().GetStringSlice("file")

	chatCtx, err := attachFiles(files)
	if err != nil {
		return err
	}

	a, ctx, err := newApp(cmd.Context(), cfg, workspace, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = usage.WithLabels(ctx, "", "", "route")

	// The command exists to show the classifier's verdict, so it always runs.
	plan := a.router.Route(ctx, strings.Join(args, " "), chatCtx, types.ChatMode(mode), agent, true)
	st := ui.NewStyles()
	out := cmd.OutOrStdout()
	printPlan(out, st, "Plan", plan)
	if escalate {
		fmt.Fprintln(out)
		printPlan(out, st, "Escalated", a.router.Escalate(plan))
	}
	return nil
}

func printPlan(w io.Writer, st ui.Styles, title string, p routing.Plan) {
	fmt.Fprintln(w, st.Title.Render(title))
	rows := [][2]string{
		{"complexity", string(p.Complexity)},
		{"delegate", string(p.Delegate)},
		{"model", p.Model},
		{"vision", fmt.Sprint(p.RequiresVision)},
		{"thinking", fmt.Sprint(p.EnableThinking)},
		{"web search", fmt.Sprint(p.EnableWebSearch)},
		{"max tokens", fmt.Sprint(p.MaxTokens)},
		{"confidence", fmt.Sprintf("%.2f", p.Confidence)},
		{"reason", p.Reason},
	}
	for _, r := range rows {
		fmt.Fprintln(w, st.Label.Render(r[0])+r[1])
	}
}
