// Package main implements the aicore CLI: chat, routing, subagents and
// batch task execution against the GLM API.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"aicore/internal/config"
	"aicore/internal/logging"
)

var (
	// Global flags
	verbose    bool
	apiKey     string
	workspace  string
	configPath string

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "aicore",
	Short: "aicore - GLM chat orchestration from the terminal",
	Long: `aicore routes each request to a suitable GLM model, keeps
conversation sessions, delegates analysis to subagent profiles and
executes task lists in parallel.

Run without a subcommand to start an interactive chat.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Z.AI API key (or set ZAI_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.aicore/config.yaml)")

	addChatFlags(rootCmd)
	addChatFlags(chatCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup resolves the workspace, loads configuration and starts logging.
func setup(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	workspace = ws

	path := configPath
	if path == "" {
		path = config.DefaultPath(ws)
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if apiKey != "" {
		loaded.Provider.APIKey = apiKey
	}
	cfg = loaded

	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.BootDebug("workspace %s, config %s", ws, path)
	return nil
}

func resolveWorkspace() (string, error) {
	ws := workspace
	if ws == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		ws = cwd
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}
