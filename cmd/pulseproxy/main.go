// Package main is the entry point for the pulseproxy CLI.
//
// PulseProxy can be embedded as a library or run as a standalone binary.
// This CLI is the standalone binary; without a config file it serves the
// built-in api-gateway, Prometheus and Grafana targets.
//
// Usage:
//
//	pulseproxy serve                      # Serve the built-in targets
//	pulseproxy serve -c config.yaml       # Serve the targets in a file
//	pulseproxy validate -c config.yaml    # Validate configuration
//	pulseproxy check -c config.yaml       # Probe every target once
//	pulseproxy version                    # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/jpalmerr/pulseproxy/config"
	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "pulseproxy",
	Short: "Health aggregation and metrics proxy",
	Long: `PulseProxy polls a fixed set of upstream services, caches their health,
and serves it to dashboards alongside Prometheus query passthrough and
write forwarding.

Quick start:
  1. Run: pulseproxy serve
  2. Open http://localhost:3001 in your browser

Target URLs default to localhost and can be overridden with
API_GATEWAY_URL, PROMETHEUS_URL and GRAFANA_URL, or replaced entirely
with a config file:

  port: 3001
  refresh_interval: 5s
  targets:
    - name: api-gateway
      url: http://localhost:8080
      kind: health
      metrics_path: /actuator/prometheus
    - name: prometheus
      url: http://localhost:9090
      kind: prometheus`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulseproxy binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulseproxy %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the file named by the --config flag, or the built-in
// target table when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}
