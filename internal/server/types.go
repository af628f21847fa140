package server

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/jpalmerr/pulseproxy/internal/store"
)

// SchemaVersion is sent as X-Schema-Version on every JSON response. Bump it
// when any struct in this file changes incompatibly.
const SchemaVersion = "1"

// Health states reported by /api/health.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Stats sources reported by /api/stats.
const (
	SourceLive   = "live"
	SourceSample = "sample"
)

// HealthEntry is one target in the /api/health response.
type HealthEntry struct {
	Success    bool      `json:"success"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HealthResponse maps target name to its health.
type HealthResponse map[string]HealthEntry

// MetricsResponse is the full latest snapshot.
type MetricsResponse = store.Snapshot

// TargetStats is the per-target part of StatsResponse.
type TargetStats struct {
	Success   bool               `json:"success"`
	LatencyMs int64              `json:"latency_ms"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// StatsResponse is the derived numeric summary served by /api/stats.
type StatsResponse struct {
	// Source is "live", or "sample" for synthesized placeholder data.
	Source  string     `json:"source"`
	TakenAt *time.Time `json:"taken_at,omitempty"`

	Targets      int     `json:"targets"`
	Up           int     `json:"up"`
	Down         int     `json:"down"`
	Availability float64 `json:"availability_pct"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`

	// Metrics sums each scraped family across all targets.
	Metrics map[string]float64 `json:"metrics"`

	PerTarget map[string]TargetStats `json:"per_target"`
}

// TargetEntry is one configured target in /api/targets.
type TargetEntry struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	BaseURL     string `json:"base_url"`
	HealthPath  string `json:"health_path"`
	MetricsPath string `json:"metrics_path,omitempty"`
	TimeoutMs   int64  `json:"timeout_ms"`
}

// TargetsResponse lists the configured targets.
type TargetsResponse struct {
	Targets         []TargetEntry `json:"targets"`
	IntervalMs      int64         `json:"refresh_interval_ms"`
	DefaultBackend  string        `json:"default_metrics_backend,omitempty"`
	GatewayEnabled  bool          `json:"gateway_enabled"`
	SampleDataOptIn bool          `json:"sample_data"`
}

// ErrorResponse is the body of every non-gateway error.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Kind    string          `json:"kind,omitempty"`
	Backend string          `json:"backend,omitempty"`
	Hint    string          `json:"hint,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// GatewayResponse is the envelope used by /api/write and /api/read.
type GatewayResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Push frame types sent over SSE and WebSocket.
const (
	FrameHealth = "health"
	FrameStats  = "stats"
)

// PushFrame is one message on the push channels.
type PushFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
