// Package poller probes the proxy's upstream targets and keeps the cached
// snapshot fresh.
//
// The main components are:
//
//   - [Prober]: one probe of one target, plus status extraction and the
//     optional Prometheus exposition scrape
//   - [FanOut]: runs a probe against every target concurrently and gathers a
//     complete [store.Snapshot]
//   - [Scheduler]: the refresh loop, the only writer of the snapshot cache
//   - [TargetInfo]: the poller-side view of a configured target
//
// Users of the pulseproxy package should not need this package directly.
// Configuration is done through the root package.
package poller
