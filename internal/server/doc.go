// Package server provides the HTTP surface of the proxy.
//
// It serves:
//
//   - Cached views: /api/health, /api/health/{name}, /api/metrics, /api/stats
//   - Query passthrough: /api/{backend}/query, /query_range and /metrics,
//     answered with the backend body unchanged
//   - Gateway forwarding: POST /api/write and GET /api/read/{key}
//   - Push: Server-Sent Events at /api/sse and WebSocket frames at /ws
//   - Federation of scraped metrics at /metrics, liveness at /healthz
//   - The embedded dashboard at /
//
// Every JSON body is declared in types.go and carries X-Schema-Version.
// Upstream failures are mapped to HTTP statuses by upstream.Error in one
// place. The server supports graceful shutdown via context cancellation.
package server
