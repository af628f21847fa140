package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/pulseproxy/internal/upstream"
	"go.uber.org/zap"
)

func newTestProber() *Prober {
	return NewProber(upstream.NewClient(), zap.NewNop())
}

// statusField is a minimal extractor for tests: it reads {"status": "..."}.
func statusField(body []byte) (Verdict, error) {
	s := string(body)
	switch {
	case strings.Contains(s, `"status":"UP"`):
		return Verdict{Reported: "UP", Up: true, Known: true}, nil
	case strings.Contains(s, `"status":"DOWN"`):
		return Verdict{Reported: "DOWN", Known: true}, nil
	default:
		return Verdict{}, nil
	}
}

func TestProbe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actuator/health" {
			t.Errorf("path = %q, want /actuator/health", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}))
	defer server.Close()

	p := newTestProber()
	target := TargetInfo{Name: "api", Kind: "health", BaseURL: server.URL + "/"}

	result := p.Probe(context.Background(), target, "/actuator/health", time.Second)

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if string(result.Payload) != `{"status":"UP"}` {
		t.Errorf("Payload = %s, want the upstream body", result.Payload)
	}
	if result.URL != server.URL+"/actuator/health" {
		t.Errorf("URL = %q", result.URL)
	}
	if result.Error != "" {
		t.Errorf("Error = %q, want empty", result.Error)
	}
	if result.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}
}

func TestProbe_NonJSONPayloadDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>grafana</html>"))
	}))
	defer server.Close()

	result := newTestProber().Probe(context.Background(), TargetInfo{Name: "grafana", BaseURL: server.URL}, "/", time.Second)

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.Payload != nil {
		t.Errorf("Payload = %s, want nil for non-JSON body", result.Payload)
	}
}

func TestProbe_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := newTestProber().Probe(context.Background(), TargetInfo{Name: "a", BaseURL: server.URL}, "/health", time.Second)

	if result.Success {
		t.Fatal("Success = true for a 500")
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", result.StatusCode)
	}
	if !strings.Contains(result.Error, "HTTP 500") {
		t.Errorf("Error = %q, want it to mention HTTP 500", result.Error)
	}
	if result.Payload != nil {
		t.Errorf("Payload = %s, want nil on failure", result.Payload)
	}
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	timeout := 100 * time.Millisecond
	start := time.Now()
	result := newTestProber().Probe(context.Background(), TargetInfo{Name: "b", BaseURL: server.URL}, "/", timeout)
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("Success = true for a hanging upstream")
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("probe took %v, want about %v", elapsed, timeout)
	}
	if result.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 when no response arrived", result.StatusCode)
	}
	if !strings.Contains(result.Error, "did not respond") {
		t.Errorf("Error = %q, want a timeout message", result.Error)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := newTestProber().Probe(context.Background(), TargetInfo{Name: "gone", BaseURL: url}, "/", time.Second)

	if result.Success {
		t.Fatal("Success = true for a closed server")
	}
	if result.Error != "gone is not accessible" {
		t.Errorf("Error = %q, want %q", result.Error, "gone is not accessible")
	}
}

func TestCheck_ExtractorReportsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"DOWN"}`))
	}))
	defer server.Close()

	target := TargetInfo{Name: "api", BaseURL: server.URL, Extractor: statusField}
	result := newTestProber().Check(context.Background(), target)

	if result.Success {
		t.Fatal("Success = true when the payload reports DOWN")
	}
	if result.Error != `reported status "DOWN"` {
		t.Errorf("Error = %q", result.Error)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
}

func TestCheck_ExtractorUnknownKeepsHTTPVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"1.2.3"}`))
	}))
	defer server.Close()

	target := TargetInfo{Name: "api", BaseURL: server.URL, Extractor: statusField}
	result := newTestProber().Check(context.Background(), target)

	if !result.Success {
		t.Errorf("Success = false, error = %q", result.Error)
	}
}

func TestCheck_ExtractorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	failing := func([]byte) (Verdict, error) { return Verdict{}, errors.New("cannot iterate over: null") }
	result := newTestProber().Check(context.Background(), TargetInfo{Name: "api", BaseURL: server.URL, Extractor: failing})

	if result.Success {
		t.Fatal("Success = true when the extractor errors")
	}
	if !strings.Contains(result.Error, "cannot iterate over") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestCheck_ExtractorPanicRecovered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}))
	defer server.Close()

	panicking := func([]byte) (Verdict, error) { panic("extractor bug") }
	result := newTestProber().Check(context.Background(), TargetInfo{Name: "api", BaseURL: server.URL, Extractor: panicking})

	if result.Success {
		t.Fatal("Success = true after extractor panic")
	}
	if !strings.Contains(result.Error, "correlation_id") {
		t.Errorf("Error = %q, want a correlation id", result.Error)
	}
	if strings.Contains(result.Error, "extractor bug") {
		t.Errorf("Error = %q leaks the panic value", result.Error)
	}
}

func TestCheck_MetricsScrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/actuator/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	})
	mux.HandleFunc("/actuator/prometheus", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(exposition))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	target := TargetInfo{
		Name:        "api",
		BaseURL:     server.URL,
		HealthPath:  "/actuator/health",
		MetricsPath: "/actuator/prometheus",
		Extractor:   statusField,
	}
	result := newTestProber().Check(context.Background(), target)

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.MetricsError != "" {
		t.Fatalf("MetricsError = %q", result.MetricsError)
	}
	if got := result.Metrics["http_requests_total"]; got != 7 {
		t.Errorf("Metrics[http_requests_total] = %v, want 7", got)
	}
	if _, ok := result.Families["http_request_duration_seconds"]; !ok {
		t.Error("histogram family missing from Families")
	}
}

func TestCheck_MetricsFailureKeepsHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	target := TargetInfo{Name: "api", BaseURL: server.URL, HealthPath: "/health", MetricsPath: "/metrics"}
	result := newTestProber().Check(context.Background(), target)

	if !result.Success {
		t.Errorf("Success = false, error = %q; a failed scrape must not flip health", result.Error)
	}
	if !strings.Contains(result.MetricsError, "HTTP 404") {
		t.Errorf("MetricsError = %q, want HTTP 404", result.MetricsError)
	}
	if result.Metrics != nil {
		t.Errorf("Metrics = %v, want nil", result.Metrics)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://h:1", "/a", "http://h:1/a"},
		{"http://h:1/", "/a", "http://h:1/a"},
		{"http://h:1/", "a", "http://h:1/a"},
		{"http://h:1/prefix", "/api/v1/query", "http://h:1/prefix/api/v1/query"},
		{"http://h:1", "", "http://h:1"},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.path); got != tt.want {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
