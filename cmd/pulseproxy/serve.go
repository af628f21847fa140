package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulseproxy"
	"github.com/jpalmerr/pulseproxy/config"
	"github.com/jpalmerr/pulseproxy/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the PulseProxy server.

The server will:
  - Load configuration from the given YAML file, or use the built-in targets
  - Refresh every target's health on the configured interval
  - Serve the REST API, live updates and the dashboard on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulseproxy serve
  pulseproxy serve -c /etc/pulseproxy/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (default: built-in targets)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Dir: cfg.Log.Dir})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config_loaded",
		zap.Int("targets", len(cfg.Targets)),
		zap.Int("port", cfg.Port),
		zap.Duration("refresh_interval", cfg.RefreshInterval.Duration()),
		zap.Bool("gateway", cfg.Gateway != nil),
	)

	opts, err := config.Options(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build targets: %w", err)
	}

	p, err := pulseproxy.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create PulseProxy: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, p, logger)
}

// serve runs p until ctx is cancelled, giving it shutdownTimeout to stop.
func serve(ctx context.Context, p *pulseproxy.Proxy, logger *zap.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown_complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown_complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown_timed_out", zap.Duration("timeout", shutdownTimeout))
			return nil
		}
	}
}
