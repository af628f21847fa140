package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpalmerr/pulseproxy"
	"github.com/jpalmerr/pulseproxy/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every target once and print the result",
	Long: `Run a single refresh round against every configured target and print
a status table. Nothing is cached and no server is started.

Exit codes:
  0 - Every target is up
  1 - At least one target is down, or the config is invalid

Example:
  pulseproxy check
  pulseproxy check -c config.yaml`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("config", "c", "", "path to config file (default: built-in targets)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts, err := config.Options(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to build targets: %w", err)
	}
	p, err := pulseproxy.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create PulseProxy: %w", err)
	}

	out := cmd.OutOrStdout()
	results := p.Check(cmd.Context())
	printTable(out, results, useColor(out))

	down := 0
	for _, h := range results {
		if h.Status != pulseproxy.StatusUp {
			down++
		}
	}
	if down > 0 {
		return fmt.Errorf("%d of %d targets down", down, len(results))
	}
	return nil
}

// useColor reports whether out is a terminal that accepts ANSI colours.
func useColor(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

func printTable(out io.Writer, results []pulseproxy.Health, color bool) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tKIND\tSTATUS\tCODE\tLATENCY\tMETRICS\tERROR")

	for _, h := range results {
		status := string(h.Status)
		if color {
			c := ansiRed
			if h.Status == pulseproxy.StatusUp {
				c = ansiGreen
			}
			status = c + status + ansiReset
		}

		code := "-"
		if h.StatusCode != 0 {
			code = fmt.Sprint(h.StatusCode)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Target, h.Kind, status, code,
			h.Latency.Round(time.Millisecond), metricsSummary(h), h.Error)
	}
	_ = w.Flush()
}

// metricsSummary renders the scraped families as "name=value" pairs with SI
// suffixes, in name order.
func metricsSummary(h pulseproxy.Health) string {
	if h.MetricsError != "" {
		return "error"
	}
	if len(h.Metrics) == 0 {
		return "-"
	}

	names := make([]string, 0, len(h.Metrics))
	for name := range h.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	const shown = 2
	parts := make([]string, 0, shown+1)
	for i, name := range names {
		if i == shown {
			parts = append(parts, fmt.Sprintf("+%s more", humanize.Comma(int64(len(names)-shown))))
			break
		}
		parts = append(parts, name+"="+strings.TrimSpace(humanize.SIWithDigits(h.Metrics[name], 1, "")))
	}
	return strings.Join(parts, " ")
}
