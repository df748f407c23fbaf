package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-args]",
	Short: "Invoke one Thunderbird tool and print its result",
	Long: `Invoke a single tool on the Thunderbird API and print the result as JSON.

Arguments are passed as a JSON object; when omitted, {} is sent.

Examples:
  thunderbird-bridge call listAccounts
  thunderbird-bridge call searchMessages '{"query":"invoice"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var toolArgs any
	if len(args) == 2 {
		raw := json.RawMessage(args[1])
		if !json.Valid(raw) {
			return fmt.Errorf("arguments for %s are not valid JSON", args[0])
		}
		toolArgs = raw
	}

	client := backend.NewClient(cfg.BackendOptions())
	result, err := client.CallTool(cmd.Context(), args[0], toolArgs)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}
