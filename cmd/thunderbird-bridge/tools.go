package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the Thunderbird API offers",
	Long: `List the tools reported by the Thunderbird API's listTools method.

By default, outputs a human-readable table. Use --json for machine-readable output.

Examples:
  thunderbird-bridge tools
  thunderbird-bridge tools --json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := backend.NewClient(cfg.BackendOptions())
	tools, err := client.ListTools(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})

	if toolsJSON {
		return outputJSON(cmd.OutOrStdout(), tools)
	}
	return outputTable(cmd.OutOrStdout(), tools)
}

func outputJSON(w io.Writer, tools []backend.Tool) error {
	if tools == nil {
		tools = []backend.Tool{}
	}
	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func outputTable(w io.Writer, tools []backend.Tool) error {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available")
		return nil
	}

	nameWidth := 4 // "NAME"
	for _, tool := range tools {
		if len(tool.Name) > nameWidth {
			nameWidth = len(tool.Name)
		}
	}

	fmt.Fprintf(w, "%-*s  %s\n", nameWidth, "NAME", "DESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%-*s  %s\n", nameWidth, tool.Name, firstLine(tool.Description, 70))
	}
	return nil
}

// firstLine returns the first line of s, cut to limit characters.
func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}
