package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/Bigsy/thunderbird-bridge/internal/bridge"
	"github.com/Bigsy/thunderbird-bridge/internal/logx"
	"github.com/Bigsy/thunderbird-bridge/internal/metrics"
	"github.com/Bigsy/thunderbird-bridge/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an MCP server on stdio",
	Long: `Run the bridge as an MCP server on stdin/stdout.

This mode is intended to be spawned by an MCP client. For example:

  {
    "thunderbird": {
      "command": "thunderbird-bridge",
      "args": ["serve"]
    }
  }

initialize, resources/list and prompts/list are answered locally. tools/list
and tools/call are translated for the Thunderbird API; every other method is
forwarded unchanged.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	// --stdio is a no-op flag for compatibility (stdio is the only transport)
	serveCmd.Flags().Bool("stdio", false, "Use stdio transport (default, always enabled)")
	_ = serveCmd.Flags().MarkHidden("stdio")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logx.Log.Info().
		Str("version", version).
		Str("backend", cfg.BackendURL).
		Dur("timeout", cfg.Timeout).
		Msg("thunderbird-bridge starting")

	rec := metrics.New()

	opts := cfg.BackendOptions()
	opts.Metrics = rec
	client := backend.NewClient(opts)

	routerOpts := cfg.BridgeOptions()
	routerOpts.Metrics = rec
	router := bridge.NewRouter(client, routerOpts)

	srv, err := server.New(server.Options{
		Handler: router,
		Stdin:   cmd.InOrStdin(),
		Stdout:  cmd.OutOrStdout(),
		Metrics: rec,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logx.Log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metrics.Serve(ctx, cfg.MetricsAddr, rec.Handler()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logx.Log.Info().Msg("thunderbird-bridge exiting")
	return nil
}
