package pulseproxy

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Kind says what a target is and how it is probed by default.
type Kind string

const (
	// KindHealth is a service exposing a JSON health endpoint, such as a
	// Spring Boot actuator. Probed at /actuator/health by default.
	KindHealth Kind = "health"

	// KindPrometheus is a Prometheus server. Probed at /api/v1/status/config
	// and usable as a query backend.
	KindPrometheus Kind = "prometheus"

	// KindCustom is any other HTTP service. Probed at / by default.
	KindCustom Kind = "custom"
)

const defaultTargetTimeout = 2 * time.Second

// DefaultHealthPath returns the health path used for kind when none is set.
func DefaultHealthPath(kind Kind) string {
	switch kind {
	case KindHealth:
		return "/actuator/health"
	case KindPrometheus:
		return "/api/v1/status/config"
	default:
		return "/"
	}
}

// Target is a named upstream service the proxy polls.
//
// Target is immutable after creation via [NewTarget]. All fields are private
// with getter methods that return copies of mutable data.
type Target struct {
	name        string
	baseURL     string
	kind        Kind
	healthPath  string
	metricsPath string
	headers     map[string]string
	method      string
	body        []byte
	timeout     time.Duration
	extractor   StatusExtractor
}

// Name returns the target's unique name.
func (t Target) Name() string {
	return t.name
}

// BaseURL returns the scheme and host (plus optional path prefix) the
// target's paths are appended to.
func (t Target) BaseURL() string {
	return t.baseURL
}

// Kind returns the target's kind.
func (t Target) Kind() Kind {
	return t.kind
}

// HealthPath returns the path probed each refresh round.
func (t Target) HealthPath() string {
	return t.healthPath
}

// MetricsPath returns the Prometheus exposition path scraped each round, or
// "" when the target is not scraped.
func (t Target) MetricsPath() string {
	return t.metricsPath
}

// Headers returns a copy of the target's custom HTTP headers.
func (t Target) Headers() map[string]string {
	return copyMap(t.headers)
}

// Method returns the HTTP method for the health probe. Empty means GET, or
// POST when a body is set.
func (t Target) Method() string {
	return t.method
}

// Body returns a copy of the health probe's request body.
func (t Target) Body() []byte {
	return copyBytes(t.body)
}

// Timeout returns the per-request timeout. Defaults to 2 seconds.
func (t Target) Timeout() time.Duration {
	return t.timeout
}

// Extractor returns the target's [StatusExtractor], or nil when the HTTP
// verdict alone decides health.
func (t Target) Extractor() StatusExtractor {
	return t.extractor
}

// NewTarget creates a [Target] with the given name, base URL, kind and
// options.
//
// The baseURL must be an absolute http or https URL. The health path
// defaults by kind (see [DefaultHealthPath]), and targets of [KindHealth]
// read the top-level "status" field via [DefaultHealthExtractor].
//
// Returns an error if the name is empty, the URL is invalid, the kind is
// unknown, or an option fails.
//
// Example:
//
//	gw, err := pulseproxy.NewTarget("api-gateway", "http://localhost:8080", pulseproxy.KindHealth,
//	    pulseproxy.WithMetricsPath("/actuator/prometheus"),
//	    pulseproxy.WithTimeout(5*time.Second),
//	)
func NewTarget(name, baseURL string, kind Kind, opts ...TargetOption) (Target, error) {
	if name == "" {
		return Target{}, errors.New("target name cannot be empty")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return Target{}, fmt.Errorf("target %q: invalid URL: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Target{}, fmt.Errorf("target %q: URL must have an http:// or https:// scheme", name)
	}
	if parsed.Host == "" {
		return Target{}, fmt.Errorf("target %q: URL must have a host", name)
	}

	switch kind {
	case KindHealth, KindPrometheus, KindCustom:
	case "":
		kind = KindCustom
	default:
		return Target{}, fmt.Errorf("target %q: unknown kind %q", name, kind)
	}

	cfg := &targetConfig{
		headers:    make(map[string]string),
		healthPath: DefaultHealthPath(kind),
		timeout:    defaultTargetTimeout,
	}
	if kind == KindHealth {
		cfg.extractor = DefaultHealthExtractor
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Target{}, fmt.Errorf("target %q: %w", name, err)
		}
	}

	return Target{
		name:        name,
		baseURL:     baseURL,
		kind:        kind,
		healthPath:  cfg.healthPath,
		metricsPath: cfg.metricsPath,
		headers:     cfg.headers,
		method:      cfg.method,
		body:        cfg.body,
		timeout:     cfg.timeout,
		extractor:   cfg.extractor,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// copyBytes returns a copy of the byte slice, or nil if input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
