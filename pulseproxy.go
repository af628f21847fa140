package pulseproxy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/pulseproxy/dashboard"
	"github.com/jpalmerr/pulseproxy/internal/gateway"
	"github.com/jpalmerr/pulseproxy/internal/poller"
	"github.com/jpalmerr/pulseproxy/internal/prom"
	"github.com/jpalmerr/pulseproxy/internal/server"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
	"go.uber.org/zap"
)

const (
	defaultRefreshInterval = poller.DefaultInterval
	defaultPort            = 8080
	defaultMaxConcurrency  = poller.DefaultMaxConcurrency
)

// Proxy is the main orchestrator: it polls targets, caches each round's
// snapshot and serves the aggregate, query passthrough and gateway
// forwarding over HTTP.
//
// Proxy is created using [New] with functional options and started with
// [Proxy.Start]. The typical lifecycle is:
//
//	p, err := pulseproxy.New(pulseproxy.WithTargets(gateway, prometheus))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	p.Start(ctx) // blocks until context cancelled
type Proxy struct {
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

	store *store.MemoryStore
}

// New creates a new [Proxy] with the given options.
//
// At least one target must be configured via [WithTarget] or [WithTargets].
// Other options have sensible defaults:
//   - Refresh interval: 5 seconds
//   - Port: 8080
//   - Max concurrency: 10
//   - Query timeout: 10 seconds
//
// Returns an error if no targets are configured, target names repeat, the
// gateway or default metrics backend name an unknown target, or any option
// is invalid.
func New(opts ...Option) (*Proxy, error) {
	cfg := &proxyConfig{
		refreshInterval: defaultRefreshInterval,
		port:            defaultPort,
		maxConcurrency:  defaultMaxConcurrency,
		queryTimeout:    prom.DefaultTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	byName := make(map[string]Target, len(cfg.targets))
	for _, t := range cfg.targets {
		if _, dup := byName[t.name]; dup {
			return nil, fmt.Errorf("duplicate target name: %q", t.name)
		}
		byName[t.name] = t
	}

	if cfg.gateway != nil {
		if _, ok := byName[cfg.gateway.Target]; !ok {
			return nil, fmt.Errorf("gateway target %q is not a configured target", cfg.gateway.Target)
		}
	}

	if cfg.defaultBackend != "" {
		t, ok := byName[cfg.defaultBackend]
		if !ok {
			return nil, fmt.Errorf("default metrics backend %q is not a configured target", cfg.defaultBackend)
		}
		if t.kind != KindPrometheus {
			return nil, fmt.Errorf("default metrics backend %q has kind %q, want %q", t.name, t.kind, KindPrometheus)
		}
	} else {
		for _, t := range cfg.targets {
			if t.kind == KindPrometheus {
				cfg.defaultBackend = t.name
				break
			}
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Proxy{
		title:           cfg.title,
		targets:         cfg.targets,
		refreshInterval: cfg.refreshInterval,
		port:            cfg.port,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		sampleData:      cfg.sampleData,
		gateway:         cfg.gateway,
		defaultBackend:  cfg.defaultBackend,
		queryTimeout:    cfg.queryTimeout,
		healthCallbacks: cfg.healthCallbacks,
		store:           store.NewMemoryStore(),
	}, nil
}

// Start begins the refresh loop and serves the API and dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// The first refresh round runs immediately, then every refresh interval.
// Requests arriving before it completes trigger the round on demand.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (p *Proxy) Start(ctx context.Context) error {
	p.logger.Info("pulseproxy_starting",
		zap.Int("targets", len(p.targets)),
		zap.Duration("refresh_interval", p.refreshInterval),
		zap.Int("port", p.port),
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	client := upstream.NewClient()
	defer client.Close()

	prober := poller.NewProber(client, p.logger)
	scheduler := poller.NewScheduler(p.targetInfos(), p.refreshInterval, p.maxConcurrency, prober, p.store, p.logger)

	// callbacks run off the store's publish channel, after the snapshot is cached
	var wg sync.WaitGroup
	var updates <-chan store.Snapshot
	if len(p.healthCallbacks) > 0 {
		updates = p.store.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range updates {
				p.notify(snap)
			}
		}()
	}

	cleanup := func() {
		scheduler.Stop()
		if updates != nil {
			p.store.Unsubscribe(updates)
		}
		wg.Wait()
	}

	scheduler.Start(ctx)

	srv := server.NewServer(p.store, scheduler, p.serverConfig(client), p.logger)
	if err := srv.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	p.logger.Info("dashboard_available", zap.String("url", fmt.Sprintf("http://localhost:%d", p.port)))

	<-ctx.Done()
	cleanup()
	p.logger.Info("pulseproxy_stopped")
	return nil
}

// Check runs a single refresh round without caching it and returns the
// result for every target, sorted by name.
func (p *Proxy) Check(ctx context.Context) []Health {
	client := upstream.NewClient()
	defer client.Close()

	snap := poller.NewProber(client, p.logger).CheckAll(ctx, p.targetInfos(), p.maxConcurrency)
	return p.healthList(snap)
}

// Health returns the latest cached result for every target, sorted by name.
// ok is false before the first refresh round has completed.
func (p *Proxy) Health() (health []Health, ok bool) {
	snap, ok := p.store.Latest()
	if !ok {
		return nil, false
	}
	return p.healthList(snap), true
}

// Targets returns a copy of the configured targets.
func (p *Proxy) Targets() []Target {
	cp := make([]Target, len(p.targets))
	copy(cp, p.targets)
	return cp
}

// Port returns the configured HTTP port.
func (p *Proxy) Port() int {
	return p.port
}

// RefreshInterval returns the configured interval between refresh rounds.
func (p *Proxy) RefreshInterval() time.Duration {
	return p.refreshInterval
}

// DefaultMetricsBackend returns the target behind the /api/metrics/query
// alias, or "" when no Prometheus target is configured.
func (p *Proxy) DefaultMetricsBackend() string {
	return p.defaultBackend
}

// targetInfos converts the targets to the poller's representation.
func (p *Proxy) targetInfos() []poller.TargetInfo {
	infos := make([]poller.TargetInfo, len(p.targets))
	for i, t := range p.targets {
		infos[i] = poller.TargetInfo{
			Name:        t.name,
			Kind:        string(t.kind),
			BaseURL:     t.baseURL,
			HealthPath:  t.healthPath,
			MetricsPath: t.metricsPath,
			Method:      t.method,
			Headers:     copyMap(t.headers),
			Body:        copyBytes(t.body),
			Timeout:     t.timeout,
			Extractor:   pollerExtractor(t.extractor),
		}
	}
	return infos
}

// pollerExtractor adapts a public extractor to the poller's verdict form.
func pollerExtractor(e StatusExtractor) poller.StatusExtractor {
	if e == nil {
		return nil
	}
	return func(body []byte) (poller.Verdict, error) {
		status, reported, err := e(body)
		if err != nil {
			return poller.Verdict{}, err
		}
		return poller.Verdict{
			Reported: reported,
			Up:       status == StatusUp,
			Known:    status != StatusUnknown,
		}, nil
	}
}

func (p *Proxy) serverConfig(client *upstream.Client) server.Config {
	cfg := server.Config{
		Port:           p.port,
		Title:          p.title,
		Assets:         dashboard.Assets,
		Interval:       p.refreshInterval,
		Backends:       make(map[string]*prom.Client),
		DefaultBackend: p.defaultBackend,
		SampleData:     p.sampleData,
	}

	for _, t := range p.targets {
		cfg.Targets = append(cfg.Targets, server.TargetEntry{
			Name:        t.name,
			Kind:        string(t.kind),
			BaseURL:     t.baseURL,
			HealthPath:  t.healthPath,
			MetricsPath: t.metricsPath,
			TimeoutMs:   t.timeout.Milliseconds(),
		})
		if t.kind == KindPrometheus {
			cfg.Backends[t.name] = prom.New(client, t.name, t.baseURL, p.queryTimeout)
		}
		if p.gateway != nil && p.gateway.Target == t.name {
			cfg.Gateway = gateway.New(client, gateway.Config{
				Name:      t.name,
				BaseURL:   t.baseURL,
				WritePath: p.gateway.WritePath,
				ReadPath:  p.gateway.ReadPath,
				Timeout:   p.gateway.Timeout,
			})
		}
	}
	return cfg
}

func (p *Proxy) healthList(snap store.Snapshot) []Health {
	list := make([]Health, 0, len(snap.Results))
	for _, r := range snap.Results {
		list = append(list, toHealth(r))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Target < list[j].Target })
	return list
}

// toHealth converts a cached result, copying the metrics map so callers
// cannot mutate the snapshot.
func toHealth(r store.ProbeResult) Health {
	var metrics map[string]float64
	if r.Metrics != nil {
		metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			metrics[k] = v
		}
	}
	status := StatusDown
	if r.Success {
		status = StatusUp
	}
	return Health{
		Target:       r.Name,
		Kind:         Kind(r.Kind),
		URL:          r.URL,
		Status:       status,
		Error:        r.Error,
		StatusCode:   r.StatusCode,
		Latency:      time.Duration(r.LatencyMs) * time.Millisecond,
		CheckedAt:    r.CheckedAt,
		Metrics:      metrics,
		MetricsError: r.MetricsError,
	}
}

// notify invokes the health callbacks for every target in snap.
func (p *Proxy) notify(snap store.Snapshot) {
	for _, h := range p.healthList(snap) {
		for _, cb := range p.healthCallbacks {
			invokeCallbackSafe(cb, h, p.logger)
		}
	}
}

// invokeCallbackSafe calls a health callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Health), h Health, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("health_callback_panicked",
				zap.Any("panic", r),
				zap.String("target", h.Target),
			)
		}
	}()
	cb(h)
}
