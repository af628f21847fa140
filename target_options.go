package pulseproxy

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// maxTargetTimeout caps per-target timeouts so one target cannot stretch a
// refresh round indefinitely.
const maxTargetTimeout = time.Minute

// targetConfig holds mutable state during target construction.
type targetConfig struct {
	healthPath  string
	metricsPath string
	headers     map[string]string
	method      string
	body        []byte
	timeout     time.Duration
	extractor   StatusExtractor
}

// TargetOption is a function that configures a [Target] during construction.
//
// TargetOption implements the functional options pattern for [NewTarget].
// Options return an error if validation fails.
type TargetOption func(*targetConfig) error

// WithHealthPath overrides the kind's default health path.
//
// Example:
//
//	t, err := pulseproxy.NewTarget("grafana", "http://localhost:3000", pulseproxy.KindCustom,
//	    pulseproxy.WithHealthPath("/api/health"),
//	)
func WithHealthPath(path string) TargetOption {
	return func(cfg *targetConfig) error {
		if !strings.HasPrefix(path, "/") {
			return errors.New("health path must start with /")
		}
		cfg.healthPath = path
		return nil
	}
}

// WithMetricsPath makes the target's Prometheus text exposition part of
// every refresh round. A failed scrape does not affect the target's health.
func WithMetricsPath(path string) TargetOption {
	return func(cfg *targetConfig) error {
		if !strings.HasPrefix(path, "/") {
			return errors.New("metrics path must start with /")
		}
		cfg.metricsPath = path
		return nil
	}
}

// WithHeaders adds custom HTTP headers to every request sent to the target.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	t, err := pulseproxy.NewTarget("api", url, pulseproxy.KindHealth,
//	    pulseproxy.WithHeaders("Authorization", "Bearer token123"),
//	)
func WithHeaders(keyValues ...string) TargetOption {
	return func(cfg *targetConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout for the target.
//
// A probe that does not complete within this duration fails with a timeout
// error. Defaults to 2 seconds; must be positive and at most one minute.
func WithTimeout(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		if d > maxTargetTimeout {
			return errors.New("timeout must not exceed 1 minute")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMethod sets the HTTP method for the health probe.
//
// Supported methods are GET (default), HEAD and POST.
func WithMethod(method string) TargetOption {
	return func(cfg *targetConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithBody sets a JSON request body for the health probe. Unless
// [WithMethod] says otherwise, the probe is then sent as POST.
func WithBody(body []byte) TargetOption {
	return func(cfg *targetConfig) error {
		cfg.body = copyBytes(body)
		return nil
	}
}

// WithExtractor sets a custom [StatusExtractor] for the target. Passing nil
// makes the HTTP status alone decide health.
func WithExtractor(e StatusExtractor) TargetOption {
	return func(cfg *targetConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithStatusQuery reads the status with a jq expression; see [JQExtractor].
//
// Returns an error if the expression is invalid.
//
// Example:
//
//	t, err := pulseproxy.NewTarget("orders", url, pulseproxy.KindHealth,
//	    pulseproxy.WithStatusQuery(".components.db.status"),
//	)
func WithStatusQuery(expr string) TargetOption {
	return func(cfg *targetConfig) error {
		extractor, err := JQExtractor(expr)
		if err != nil {
			return err
		}
		cfg.extractor = extractor
		return nil
	}
}
