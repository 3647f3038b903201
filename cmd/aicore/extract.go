package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"aicore/internal/extract"
)

// extractCmd recovers JSON from model output read on stdin.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Recover JSON from free-form model output on stdin",
	Long: `Reads text from stdin and prints the first JSON document that can be
recovered from it: the whole input, a bracketed span, a repaired span or a
fenced code block.`,
	Args: cobra.NoArgs,
	// No config or logging needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runExtract,
}

func init() {
	extractCmd.Flags().Bool("object", false, "Only accept a JSON object")
	extractCmd.Flags().Bool("compact", false, "Print without indentation")
}

func runExtract(cmd *cobra.Command, args []string) error {
	input, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	objectOnly, _ := cmd.Flags().GetBool("object")
	compact, _ := cmd.Flags().GetBool("compact")

	find := extract.Find
	if objectOnly {
		find = extract.Object
	}
	raw, ok := find(string(input))
	if !ok {
		return extract.ErrNotFound
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", extract.ErrNotFound, err)
	}
	var out []byte
	if compact {
		out, err = json.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
