package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/pulseproxy/config"
	"github.com/jpalmerr/pulseproxy/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PulseProxy configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields, reporting every problem at once. It's useful for CI/CD
pipelines or pre-deployment checks.

With --watch it keeps running and re-validates the file on every save.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulseproxy validate -c config.yaml
  pulseproxy validate -c config.yaml --watch`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	validateCmd.Flags().BoolP("watch", "w", false, "re-validate whenever the file changes")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	watch, _ := cmd.Flags().GetBool("watch")
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configFile)
	if err != nil && !watch {
		return fmt.Errorf("invalid config: %w", err)
	}
	report(out, cfg, err)
	if !watch {
		return nil
	}

	logger, err := logging.New(logging.Options{Level: "warn", Console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", configFile)
	return config.Watch(ctx, configFile, logger, func(cfg *config.Config, err error) {
		report(out, cfg, err)
	})
}

func report(out io.Writer, cfg *config.Config, err error) {
	if err != nil {
		fmt.Fprintf(out, "Config is invalid:\n")
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(out, "  - %v\n", e)
		}
		return
	}

	kinds := make(map[string]int)
	for _, t := range cfg.Targets {
		kinds[t.Kind]++
	}

	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:             %d\n", cfg.Port)
	fmt.Fprintf(out, "  Refresh interval: %s\n", cfg.RefreshInterval.Duration())
	fmt.Fprintf(out, "  Targets:          %d (%d health, %d prometheus, %d custom)\n",
		len(cfg.Targets), kinds["health"], kinds["prometheus"], kinds["custom"])
	if cfg.Gateway != nil {
		fmt.Fprintf(out, "  Gateway:          %s\n", cfg.Gateway.Target)
	}
}
