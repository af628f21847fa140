package server

import (
	"html"
	"io/fs"
	"math"
	"math/rand"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jpalmerr/pulseproxy/internal/poller"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

const errNoSnapshot = "no health data available yet"

// handleHealth returns the UP/DOWN view of the latest snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: errNoSnapshot})
		return
	}
	s.writeJSON(w, http.StatusOK, buildHealth(snap))
}

func (s *Server) handleHealthTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, ok := s.snapshot(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: errNoSnapshot})
		return
	}

	result, found := snap.Results[name]
	if !found {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown target " + name})
		return
	}
	s.writeJSON(w, http.StatusOK, healthEntry(result))
}

// handleMetrics returns the whole latest snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: errNoSnapshot})
		return
	}
	s.writeJSON(w, http.StatusOK, MetricsResponse(snap))
}

// handleStats returns the derived summary. Sample data is served only when
// enabled and no target is up.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(r.Context())
	if s.cfg.SampleData && !hasLiveData(snap, ok) {
		s.logger.Warn("serving_sample_stats", zap.Bool("cache_populated", ok))
		s.writeJSON(w, http.StatusOK, sampleStats(s.cfg.Targets))
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: errNoSnapshot})
		return
	}
	s.writeJSON(w, http.StatusOK, buildStats(snap))
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.cfg.Targets
	if targets == nil {
		targets = []TargetEntry{}
	}
	s.writeJSON(w, http.StatusOK, TargetsResponse{
		Targets:         targets,
		IntervalMs:      s.cfg.Interval.Milliseconds(),
		DefaultBackend:  s.cfg.DefaultBackend,
		GatewayEnabled:  s.cfg.Gateway != nil,
		SampleDataOptIn: s.cfg.SampleData,
	})
}

// handleFederate re-exposes every scraped family in Prometheus text format.
func (s *Server) handleFederate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	snap, ok := s.snapshot(r.Context())
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("# " + errNoSnapshot + "\n"))
		return
	}
	if err := poller.Federate(w, snap); err != nil {
		s.logger.Error("federate_failed", zap.Error(err))
	}
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(s.cfg.Title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("write_dashboard_failed", zap.Error(err))
	}
}

func healthEntry(r store.ProbeResult) HealthEntry {
	status := StatusDown
	if r.Success {
		status = StatusUp
	}
	return HealthEntry{
		Success:    r.Success,
		Status:     status,
		Error:      r.Error,
		Kind:       r.Kind,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		LatencyMs:  r.LatencyMs,
		CheckedAt:  r.CheckedAt,
	}
}

func buildHealth(snap store.Snapshot) HealthResponse {
	resp := make(HealthResponse, len(snap.Results))
	for name, r := range snap.Results {
		resp[name] = healthEntry(r)
	}
	return resp
}

func buildStats(snap store.Snapshot) StatsResponse {
	takenAt := snap.TakenAt
	resp := StatsResponse{
		Source:    SourceLive,
		TakenAt:   &takenAt,
		Targets:   len(snap.Results),
		Metrics:   make(map[string]float64),
		PerTarget: make(map[string]TargetStats, len(snap.Results)),
	}

	var totalLatency int64
	for name, r := range snap.Results {
		if r.Success {
			resp.Up++
		} else {
			resp.Down++
		}
		totalLatency += r.LatencyMs
		if r.LatencyMs > resp.MaxLatencyMs {
			resp.MaxLatencyMs = r.LatencyMs
		}
		for family, v := range r.Metrics {
			resp.Metrics[family] += v
		}
		resp.PerTarget[name] = TargetStats{
			Success:   r.Success,
			LatencyMs: r.LatencyMs,
			Metrics:   r.Metrics,
		}
	}

	if resp.Targets > 0 {
		resp.AvgLatencyMs = round2(float64(totalLatency) / float64(resp.Targets))
		resp.Availability = round2(100 * float64(resp.Up) / float64(resp.Targets))
	}
	return resp
}

func hasLiveData(snap store.Snapshot, ok bool) bool {
	if !ok {
		return false
	}
	up, _ := snap.Counts()
	return up > 0
}

// sampleStats synthesizes placeholder numbers for demos. It is only reached
// with sample data explicitly enabled, and the response says so.
func sampleStats(targets []TargetEntry) StatsResponse {
	resp := StatsResponse{
		Source:  SourceSample,
		Targets: len(targets),
		Up:      len(targets),
		Metrics: map[string]float64{
			"logs_processed_total": float64(1000 + rand.Intn(9000)),
			"logs_failed_total":    float64(rand.Intn(50)),
			"write_latency_ms":     round2(5 + 20*rand.Float64()),
		},
		PerTarget:    make(map[string]TargetStats, len(targets)),
		Availability: 100,
	}

	var total int64
	for _, t := range targets {
		latency := int64(10 + rand.Intn(90))
		total += latency
		if latency > resp.MaxLatencyMs {
			resp.MaxLatencyMs = latency
		}
		resp.PerTarget[t.Name] = TargetStats{Success: true, LatencyMs: latency}
	}
	if len(targets) > 0 {
		resp.AvgLatencyMs = round2(float64(total) / float64(len(targets)))
	}
	return resp
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
