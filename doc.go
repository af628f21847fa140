// Package pulseproxy provides an embeddable health and metrics aggregation
// proxy for a small, static set of upstream services.
//
// A Proxy polls every configured target on a fixed interval, caches the
// result of each round as one snapshot and serves that snapshot to
// dashboards as JSON, Server-Sent Events and WebSocket frames. It also
// forwards Prometheus instant and range queries byte-for-byte and forwards
// key/value writes and reads to a backing gateway.
//
// # Quick Start
//
//	gw, _ := pulseproxy.NewTarget("api-gateway", "http://localhost:8080", pulseproxy.KindHealth)
//	prom, _ := pulseproxy.NewTarget("prometheus", "http://localhost:9090", pulseproxy.KindPrometheus)
//	p, _ := pulseproxy.New(pulseproxy.WithTargets(gw, prom), pulseproxy.WithPort(3001))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	p.Start(ctx) // blocks until context is cancelled
//
// # Targets
//
// A [Target] has a name, a base URL and a [Kind]. The kind picks the
// default health path and whether the target can serve metric queries:
//
//   - [KindHealth]: /actuator/health, status read from the "status" field
//   - [KindPrometheus]: /api/v1/status/config, usable as a query backend
//   - [KindCustom]: /, HTTP status alone decides
//
// Health is UP only when the probe answered 2xx within its timeout and the
// target's [StatusExtractor], if any, did not report it unhealthy.
//
// # Caching
//
// Only the refresh loop writes the cache. A snapshot replaces the previous
// one wholesale, and once populated the cache never goes back to empty: a
// failed or cancelled round keeps the previous snapshot.
//
// # Architecture
//
// The internal packages are not part of the public API:
//
//   - internal/poller: probes, bounded fan-out, the refresh loop
//   - internal/store: snapshot cell with pub/sub
//   - internal/upstream: HTTP client and error classification
//   - internal/prom: Prometheus query passthrough
//   - internal/gateway: write/read forwarding
//   - internal/server: chi router, JSON, SSE and WebSocket surfaces
//   - dashboard: embedded web UI
package pulseproxy
