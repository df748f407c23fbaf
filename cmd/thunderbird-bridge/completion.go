package main

import (
	"context"
	"time"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/spf13/cobra"
)

const completionTimeout = 2 * time.Second

func init() {
	callCmd.ValidArgsFunction = completeToolNames

	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error", "none"}, cobra.ShellCompDirectiveNoFileComp
	})
}

// completeToolNames asks the running back end for tool names. Completion stays
// silent when Thunderbird is not reachable.
func completeToolNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	cfg, err := mergedConfig(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	// Completion never waits longer than completionTimeout.
	opts := cfg.BackendOptions()
	if opts.Timeout <= 0 || opts.Timeout > completionTimeout {
		opts.Timeout = completionTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	tools, err := backend.NewClient(opts).ListTools(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
