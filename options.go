package pulseproxy

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// proxyConfig holds mutable state during Proxy construction.
type proxyConfig struct {
	title           string
	targets         []Target
	refreshInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *zap.Logger
	sampleData      bool
	gateway         *GatewayConfig
	defaultBackend  string
	queryTimeout    time.Duration
	healthCallbacks []func(Health)
}

// GatewayConfig points /api/write and /api/read at a configured target.
type GatewayConfig struct {
	// Target names the configured target that accepts the writes.
	Target string

	// WritePath receives writes. Defaults to /api/logs.
	WritePath string

	// ReadPath serves reads; {key} is replaced by the escaped key.
	// Defaults to /api/logs/{key}.
	ReadPath string

	// Timeout bounds each forwarded call. Defaults to 30 seconds.
	Timeout time.Duration
}

// Option is a function that configures a [Proxy] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*proxyConfig) error

// WithTarget adds a single [Target] to the polling list.
//
// Can be called multiple times. At least one target must be configured for
// [New] to succeed.
func WithTarget(t Target) Option {
	return func(cfg *proxyConfig) error {
		cfg.targets = append(cfg.targets, t)
		return nil
	}
}

// WithTargets adds multiple [Target] values to the polling list.
//
// Example:
//
//	p, err := pulseproxy.New(
//	    pulseproxy.WithTargets(gateway, prometheus, grafana),
//	)
func WithTargets(targets ...Target) Option {
	return func(cfg *proxyConfig) error {
		cfg.targets = append(cfg.targets, targets...)
		return nil
	}
}

// WithRefreshInterval sets how often all targets are probed and the cached
// snapshot replaced. Defaults to 5 seconds.
//
// Returns an error if the duration is below one second.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *proxyConfig) error {
		if d < time.Second {
			return errors.New("refresh interval must be at least 1 second")
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the API and dashboard.
//
// Defaults to 8080. Returns an error if the port is outside 1-65535.
func WithPort(port int) Option {
	return func(cfg *proxyConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency caps the number of probes in flight during a round.
// Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *proxyConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets the [zap.Logger] used by the proxy and everything it runs.
// If not specified, logging is disabled.
//
// Returns an error if the logger is nil.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *proxyConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "PulseProxy".
func WithTitle(title string) Option {
	return func(cfg *proxyConfig) error {
		cfg.title = title
		return nil
	}
}

// WithSampleData lets /api/stats serve synthesized placeholder stats while
// no target is up. Sample stats are always marked "source": "sample".
// Off by default.
func WithSampleData(enabled bool) Option {
	return func(cfg *proxyConfig) error {
		cfg.sampleData = enabled
		return nil
	}
}

// WithGateway enables write and read forwarding to the named target.
//
// Example:
//
//	p, err := pulseproxy.New(
//	    pulseproxy.WithTargets(gateway, prometheus),
//	    pulseproxy.WithGateway(pulseproxy.GatewayConfig{Target: "api-gateway"}),
//	)
func WithGateway(gw GatewayConfig) Option {
	return func(cfg *proxyConfig) error {
		if gw.Target == "" {
			return errors.New("gateway target cannot be empty")
		}
		if gw.Timeout < 0 {
			return errors.New("gateway timeout must not be negative")
		}
		cfg.gateway = &gw
		return nil
	}
}

// WithDefaultMetricsBackend names the Prometheus target behind the
// /api/metrics/query alias. Defaults to the first target of [KindPrometheus].
func WithDefaultMetricsBackend(name string) Option {
	return func(cfg *proxyConfig) error {
		cfg.defaultBackend = name
		return nil
	}
}

// WithQueryTimeout bounds forwarded Prometheus queries. Defaults to 10 seconds.
func WithQueryTimeout(d time.Duration) Option {
	return func(cfg *proxyConfig) error {
		if d <= 0 {
			return errors.New("query timeout must be positive")
		}
		cfg.queryTimeout = d
		return nil
	}
}

// WithHealthCallback registers a function called for every target after each
// refresh round, once the new snapshot is cached.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Long-running work should be
// dispatched to a separate goroutine.
//
// Callbacks are invoked from a single goroutine. Panics within callbacks are
// recovered and logged. Nil callbacks are silently ignored.
//
// Example:
//
//	pulseproxy.WithHealthCallback(func(h pulseproxy.Health) {
//	    if h.Status == pulseproxy.StatusDown {
//	        log.Printf("ALERT: %s is down: %s", h.Target, h.Error)
//	    }
//	})
func WithHealthCallback(cb func(Health)) Option {
	return func(cfg *proxyConfig) error {
		if cb == nil {
			return nil
		}
		cfg.healthCallbacks = append(cfg.healthCallbacks, cb)
		return nil
	}
}
