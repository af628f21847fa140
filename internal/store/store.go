package store

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
	dto "github.com/prometheus/client_model/go"
)

// ProbeResult is the outcome of one probe against one target.
//
// ProbeResult is created fresh on every probe and never mutated afterwards.
// It is the storage and wire representation used by the REST API, SSE and
// WebSocket surfaces.
type ProbeResult struct {
	// Name is the target's name.
	Name string `json:"name"`

	// Kind is the target kind: health, prometheus or custom.
	Kind string `json:"kind"`

	// URL is the URL that was probed.
	URL string `json:"url"`

	// Success is true when a 2xx response was received and, where a status
	// query is configured, the payload reported a healthy status.
	Success bool `json:"success"`

	// StatusCode is the upstream HTTP status. Zero when no response arrived.
	StatusCode int `json:"status_code,omitempty"`

	// Payload is the upstream body when it was valid JSON.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error is a human-readable failure message. Empty on success.
	Error string `json:"error,omitempty"`

	// LatencyMs is the probe latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// CheckedAt is when the probe finished.
	CheckedAt time.Time `json:"checked_at"`

	// Metrics holds the per-family sums of the target's scraped exposition.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// MetricsError is set when the exposition scrape failed. It does not
	// affect Success.
	MetricsError string `json:"metrics_error,omitempty"`

	// Families are the parsed metric families behind Metrics, kept for
	// federation on /metrics.
	Families map[string]*dto.MetricFamily `json:"-"`
}

// Snapshot is the result of one complete fan-out round.
//
// A Snapshot replaces its predecessor wholesale; it is never merged or
// patched. Callers must treat it as read-only.
type Snapshot struct {
	// Results maps target name to its probe result.
	Results map[string]ProbeResult `json:"results"`

	// TakenAt is when the fan-out round completed.
	TakenAt time.Time `json:"taken_at"`
}

// Empty reports whether the snapshot holds no results.
func (s Snapshot) Empty() bool {
	return len(s.Results) == 0
}

// Names returns the target names in the snapshot, sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Results))
	for name := range s.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns how many results succeeded and failed.
func (s Snapshot) Counts() (up, down int) {
	for _, r := range s.Results {
		if r.Success {
			up++
		} else {
			down++
		}
	}
	return up, down
}

// Store holds the latest [Snapshot] and fans updates out to subscribers.
//
// Implementations must be safe for concurrent use. Readers always observe a
// complete snapshot from a single round.
type Store interface {
	// Replace installs s as the latest snapshot and notifies subscribers.
	// An empty snapshot is rejected and false is returned, so a populated
	// store never goes back to empty.
	Replace(s Snapshot) bool

	// Latest returns the current snapshot and whether one exists yet.
	Latest() (Snapshot, bool)

	// Subscribe returns a channel that receives every accepted snapshot.
	// Slow consumers may miss snapshots. Call Unsubscribe when done.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(ch <-chan Snapshot)
}
