package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aicore/cmd/aicore/ui"
	"aicore/internal/gateway"
	"aicore/internal/logging"
)

// pingCmd checks that the configured key and endpoint answer.
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the connection to the GLM API",
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().Duration("timeout", 30*time.Second, "Connection test timeout")
}

func runPing(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := gateway.New(cfg.Gateway())
	st := ui.NewStyles()
	out := cmd.OutOrStdout()

	start := time.Now()
	if err := client.TestConnection(ctx); err != nil {
		logging.APIError("connection test failed: %v", err)
		fmt.Fprintln(out, st.Error.Render("Connection failed: "+err.Error()))
		return err
	}
	fmt.Fprintln(out, st.Title.Render("Connected")+st.Muted.Render(fmt.Sprintf("  %s via %s in %s", cfg.Provider.Model, cfg.Provider.BaseURL, time.Since(start).Round(time.Millisecond))))
	return nil
}
