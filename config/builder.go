package config

import (
	"sort"

	"github.com/jpalmerr/pulseproxy"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BuildTargets converts parsed configuration into SDK Target objects.
//
// Every target that fails to build is reported, combined into one error.
func BuildTargets(cfg *Config) ([]pulseproxy.Target, error) {
	var (
		targets []pulseproxy.Target
		errs    error
	)
	for _, tc := range cfg.Targets {
		t, err := buildTarget(tc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		targets = append(targets, t)
	}
	if errs != nil {
		return nil, errs
	}
	return targets, nil
}

// Options converts the whole configuration into SDK options for
// pulseproxy.New, logging through logger.
func Options(cfg *Config, logger *zap.Logger) ([]pulseproxy.Option, error) {
	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}

	opts := []pulseproxy.Option{
		pulseproxy.WithTargets(targets...),
		pulseproxy.WithPort(cfg.Port),
		pulseproxy.WithRefreshInterval(cfg.RefreshInterval.Duration()),
		pulseproxy.WithSampleData(cfg.SampleData),
	}
	if logger != nil {
		opts = append(opts, pulseproxy.WithLogger(logger))
	}
	if cfg.Title != "" {
		opts = append(opts, pulseproxy.WithTitle(cfg.Title))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, pulseproxy.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.QueryTimeout > 0 {
		opts = append(opts, pulseproxy.WithQueryTimeout(cfg.QueryTimeout.Duration()))
	}
	if cfg.DefaultMetricsBackend != "" {
		opts = append(opts, pulseproxy.WithDefaultMetricsBackend(cfg.DefaultMetricsBackend))
	}
	if g := cfg.Gateway; g != nil {
		opts = append(opts, pulseproxy.WithGateway(pulseproxy.GatewayConfig{
			Target:    g.Target,
			WritePath: g.WritePath,
			ReadPath:  g.ReadPath,
			Timeout:   g.Timeout.Duration(),
		}))
	}
	return opts, nil
}

// buildTarget converts a single TargetConfig to an SDK Target.
func buildTarget(tc TargetConfig) (pulseproxy.Target, error) {
	var opts []pulseproxy.TargetOption

	if tc.HealthPath != "" {
		opts = append(opts, pulseproxy.WithHealthPath(tc.HealthPath))
	}
	if tc.MetricsPath != "" {
		opts = append(opts, pulseproxy.WithMetricsPath(tc.MetricsPath))
	}
	if tc.Method != "" {
		opts = append(opts, pulseproxy.WithMethod(tc.Method))
	}
	if tc.Body != "" {
		opts = append(opts, pulseproxy.WithBody([]byte(tc.Body)))
	}
	if tc.Timeout != 0 {
		opts = append(opts, pulseproxy.WithTimeout(tc.Timeout.Duration()))
	}
	if len(tc.Headers) > 0 {
		opts = append(opts, pulseproxy.WithHeaders(mapToKeyValuePairs(tc.Headers)...))
	}
	if tc.StatusQuery != "" {
		opts = append(opts, pulseproxy.WithStatusQuery(tc.StatusQuery))
	}
	if opt := extractorOption(tc.Extractor); opt != nil {
		opts = append(opts, opt)
	}

	return pulseproxy.NewTarget(tc.Name, tc.URL, pulseproxy.Kind(tc.Kind), opts...)
}

// extractorOption converts ExtractorConfig to a target option. Returns nil
// for default/empty extractors, leaving the kind's default in place.
func extractorOption(ec ExtractorConfig) pulseproxy.TargetOption {
	switch ec.Type {
	case "http":
		return pulseproxy.WithExtractor(nil)
	case "jq":
		return pulseproxy.WithStatusQuery(ec.Query)
	case "contains":
		return pulseproxy.WithExtractor(pulseproxy.ContainsExtractor(ec.Text))
	default:
		return nil
	}
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
