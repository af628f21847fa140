// Package store holds the proxy's cached view of its upstreams.
//
// The data model is [ProbeResult] (one probe of one target) and [Snapshot]
// (one complete fan-out round). [MemoryStore] keeps the latest snapshot in a
// single mutex-guarded cell that is replaced wholesale, so readers never see
// a half-updated round, and publishes each accepted snapshot to subscribers
// (the SSE stream and the WebSocket hub).
//
// The store only moves from empty to populated. An empty snapshot is never
// accepted, so a failed round cannot blank the dashboard.
package store
