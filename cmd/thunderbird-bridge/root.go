package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Bigsy/thunderbird-bridge/internal/config"
	"github.com/Bigsy/thunderbird-bridge/internal/logx"
	"github.com/spf13/cobra"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath  string
	backendURL  string
	timeout     time.Duration
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "thunderbird-bridge",
	Short: "MCP stdio bridge to the Thunderbird API extension",
	Long: `thunderbird-bridge speaks MCP on stdin/stdout and forwards tool calls to
the Thunderbird API extension's local HTTP endpoint.

Running without a subcommand is the same as 'thunderbird-bridge serve'.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE:    runServe,
}

func init() {
	// Disable automatic completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to config file (default: ~/.config/thunderbird-bridge/config.yaml)")
	flags.StringVar(&backendURL, "backend-url", "", "Thunderbird API endpoint (default: http://localhost:8766/)")
	flags.DurationVar(&timeout, "timeout", 0, "Timeout for each back-end call (default: 30s)")
	flags.StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error, none)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (disabled when empty)")
}

// loadConfig reads the effective config, validates it and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := mergedConfig(cmd)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// stdout carries protocol or command output, so logs always go to stderr.
	logx.Configure(cfg.LogLevel, cmd.ErrOrStderr())
	return cfg, nil
}

// mergedConfig reads the config file and applies any flags set on cmd.
func mergedConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend-url") {
		cfg.BackendURL = backendURL
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
