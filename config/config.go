// Package config provides YAML configuration parsing for PulseProxy.
//
// This package enables running PulseProxy as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// Without a file, [Default] supplies the built-in target table.
//
// Example configuration:
//
//	port: 3001
//	refresh_interval: 5s
//
//	targets:
//	  - name: api-gateway
//	    url: ${API_GATEWAY_URL:-http://localhost:8080}
//	    kind: health
//	    metrics_path: /actuator/prometheus
//	  - name: prometheus
//	    url: ${PROMETHEUS_URL:-http://localhost:9090}
//	    kind: prometheus
//
//	gateway:
//	  target: api-gateway
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultRefreshInterval = 5 * time.Second

	// minRefreshInterval keeps a misconfigured file from hammering upstreams.
	minRefreshInterval = time.Second

	// maxTimeout matches the SDK's per-target cap.
	maxTimeout = time.Minute
)

// Config is the root configuration structure for PulseProxy.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "PulseProxy" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// RefreshInterval is the time between refresh rounds. Defaults to 5s.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// MaxConcurrency caps probes in flight per round. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// QueryTimeout bounds forwarded Prometheus queries. Defaults to 10s.
	QueryTimeout Duration `yaml:"query_timeout"`

	// DefaultMetricsBackend names the Prometheus target behind the
	// /api/metrics/query alias. Defaults to the first prometheus target.
	DefaultMetricsBackend string `yaml:"default_metrics_backend"`

	// SampleData enables synthesized /api/stats while no target is up.
	SampleData bool `yaml:"sample_data"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Targets are the upstream services to poll.
	Targets []TargetConfig `yaml:"targets"`

	// Gateway enables /api/write and /api/read forwarding.
	Gateway *GatewayConfig `yaml:"gateway"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Defaults to info.
	Level string `yaml:"level"`

	// Dir, when set, adds a rolling log file in this directory.
	Dir string `yaml:"dir"`
}

// TargetConfig defines a single upstream service.
type TargetConfig struct {
	// Name is the unique target name.
	Name string `yaml:"name"`

	// URL is the target's base URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Kind is health, prometheus or custom. Defaults to custom.
	Kind string `yaml:"kind"`

	// HealthPath overrides the kind's default health path.
	HealthPath string `yaml:"health_path"`

	// MetricsPath is a Prometheus text exposition to scrape each round.
	MetricsPath string `yaml:"metrics_path"`

	// Method is the HTTP method (GET, HEAD, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Body is sent with the health probe.
	Body string `yaml:"body"`

	// Timeout is the per-request timeout. Defaults to 2s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// StatusQuery is a jq expression reading the status from the payload.
	StatusQuery string `yaml:"status_query"`

	// Extractor determines how to interpret the response as a status.
	// Mutually exclusive with StatusQuery.
	Extractor ExtractorConfig `yaml:"extractor"`
}

// GatewayConfig points write and read forwarding at a target.
type GatewayConfig struct {
	// Target names the configured target that accepts writes.
	Target string `yaml:"target"`

	// WritePath defaults to /api/logs.
	WritePath string `yaml:"write_path"`

	// ReadPath defaults to /api/logs/{key}.
	ReadPath string `yaml:"read_path"`

	// Timeout defaults to 30s.
	Timeout Duration `yaml:"timeout"`
}

// ExtractorConfig specifies how to determine health status from a response.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	extractor: jq:.components.db.status
//	extractor: contains:ok
//	extractor: http
//	extractor: default
//
// Structured object:
//
//	extractor:
//	  type: jq
//	  query: .components.db.status
type ExtractorConfig struct {
	// Type is the extractor type: "default", "http", "jq", "contains".
	Type string

	// Query is the jq expression (for type: jq).
	Query string

	// Text is the substring to search for (for type: contains).
	Text string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)

	case yaml.MappingNode:
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type  string `yaml:"type"`
			Query string `yaml:"query"`
			Text  string `yaml:"text"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Query = raw.Query
		e.Text = raw.Text
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → the kind's default extractor
//   - "http" → HTTP status code only
//   - "jq:expr" → evaluate a jq expression
//   - "contains:text" → check if body contains text
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if idx := strings.Index(s, ":"); idx != -1 {
		e.Type = s[:idx]
		value := s[idx+1:]

		switch e.Type {
		case "jq":
			e.Query = value
		case "contains":
			e.Text = value
		default:
			return fmt.Errorf("unknown extractor type %q", e.Type)
		}
		return nil
	}

	switch s {
	case "default", "http":
		e.Type = s
	default:
		return fmt.Errorf("unknown extractor %q (expected 'default', 'http', 'jq:expr', or 'contains:text')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment
// values. A variable that is unset and has no default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], sub[2] != "", sub[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded after parsing.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in target URLs and header values.
// Defaults are applied for Port (8080) and RefreshInterval (5s). Every
// validation problem is reported, combined into one error.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in target table used when no config file is
// given: an api-gateway actuator, Prometheus and Grafana, with URLs from
// API_GATEWAY_URL, PROMETHEUS_URL and GRAFANA_URL and the port from PORT.
func Default() (*Config, error) {
	cfg := Config{
		Port: 3001,
		Targets: []TargetConfig{
			{
				Name:        "api-gateway",
				URL:         "${API_GATEWAY_URL:-http://localhost:8080}",
				Kind:        "health",
				MetricsPath: "/actuator/prometheus",
			},
			{
				Name: "prometheus",
				URL:  "${PROMETHEUS_URL:-http://localhost:9090}",
				Kind: "prometheus",
			},
			{
				Name:       "grafana",
				URL:        "${GRAFANA_URL:-http://localhost:3000}",
				Kind:       "custom",
				HealthPath: "/api/health",
			},
		},
		Gateway: &GatewayConfig{Target: "api-gateway"},
	}

	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// expandAndValidate expands environment variables and validates the config,
// collecting every problem rather than stopping at the first.
func (c *Config) expandAndValidate() error {
	var errs error

	if c.Port < 1 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.RefreshInterval.Duration() < minRefreshInterval {
		errs = multierr.Append(errs, fmt.Errorf("refresh_interval must be at least %s, got %s",
			minRefreshInterval, c.RefreshInterval.Duration()))
	}
	if c.MaxConcurrency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency))
	}
	if c.QueryTimeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("query_timeout cannot be negative, got %s", c.QueryTimeout.Duration()))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	if len(c.Targets) == 0 {
		errs = multierr.Append(errs, errors.New("at least one target must be defined"))
	}

	kinds := make(map[string]string, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		ctx := fmt.Sprintf("targets[%d] (%s)", i, t.Name)

		if t.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("targets[%d]: name is required", i))
		} else if _, dup := kinds[t.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: duplicate target name", ctx))
		}
		if t.Kind == "" {
			t.Kind = "custom"
		}
		kinds[t.Name] = t.Kind

		errs = multierr.Append(errs, t.expandAndValidate(ctx))
	}

	if c.DefaultMetricsBackend != "" {
		kind, ok := kinds[c.DefaultMetricsBackend]
		switch {
		case !ok:
			errs = multierr.Append(errs, fmt.Errorf("default_metrics_backend %q is not a configured target", c.DefaultMetricsBackend))
		case kind != "prometheus":
			errs = multierr.Append(errs, fmt.Errorf("default_metrics_backend %q must be a prometheus target, got kind %q", c.DefaultMetricsBackend, kind))
		}
	}

	if g := c.Gateway; g != nil {
		if g.Target == "" {
			errs = multierr.Append(errs, errors.New("gateway: target is required"))
		} else if _, ok := kinds[g.Target]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("gateway: target %q is not a configured target", g.Target))
		}
		if g.Timeout < 0 {
			errs = multierr.Append(errs, fmt.Errorf("gateway: timeout cannot be negative, got %s", g.Timeout.Duration()))
		}
		if g.ReadPath != "" && !strings.Contains(g.ReadPath, "{key}") {
			errs = multierr.Append(errs, errors.New("gateway: read_path must contain {key}"))
		}
	}

	return errs
}

func (t *TargetConfig) expandAndValidate(ctx string) error {
	var errs error

	switch t.Kind {
	case "health", "prometheus", "custom":
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s: kind must be health, prometheus or custom, got %q", ctx, t.Kind))
	}

	if t.URL == "" {
		errs = multierr.Append(errs, fmt.Errorf("%s: url is required", ctx))
	} else if expanded, err := expandEnvVars(t.URL); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%s: url: %w", ctx, err))
	} else {
		t.URL = expanded
		errs = multierr.Append(errs, validateURL(ctx, t.URL))
	}

	for k, v := range t.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: headers[%s]: %w", ctx, k, err))
			continue
		}
		t.Headers[k] = expanded
	}

	if t.HealthPath != "" && !strings.HasPrefix(t.HealthPath, "/") {
		errs = multierr.Append(errs, fmt.Errorf("%s: health_path must start with /", ctx))
	}
	if t.MetricsPath != "" && !strings.HasPrefix(t.MetricsPath, "/") {
		errs = multierr.Append(errs, fmt.Errorf("%s: metrics_path must start with /", ctx))
	}

	if t.Method != "" && t.Method != "GET" && t.Method != "HEAD" && t.Method != "POST" {
		errs = multierr.Append(errs, fmt.Errorf("%s: method must be GET, HEAD, or POST", ctx))
	}

	if t.Timeout != 0 && (t.Timeout.Duration() < 0 || t.Timeout.Duration() > maxTimeout) {
		errs = multierr.Append(errs, fmt.Errorf("%s: timeout must be between 0 and %s, got %s",
			ctx, maxTimeout, t.Timeout.Duration()))
	}

	if t.StatusQuery != "" && t.Extractor.Type != "" {
		errs = multierr.Append(errs, fmt.Errorf("%s: status_query and extractor are mutually exclusive", ctx))
	}
	errs = multierr.Append(errs, validateExtractor(&t.Extractor, ctx))

	return errs
}

func validateURL(ctx, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", ctx, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s: url scheme must be http or https, got %q", ctx, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s: url must have a host", ctx)
	}
	return nil
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, ctx string) error {
	switch e.Type {
	case "", "default", "http":
		return nil
	case "jq":
		if e.Query == "" {
			return fmt.Errorf("%s: extractor type 'jq' requires a query", ctx)
		}
	case "contains":
		if e.Text == "" {
			return fmt.Errorf("%s: extractor type 'contains' requires text", ctx)
		}
	default:
		return fmt.Errorf("%s: unknown extractor type %q", ctx, e.Type)
	}
	return nil
}
