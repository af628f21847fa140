package pulseproxy

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNewTarget_Defaults(t *testing.T) {
	tests := []struct {
		kind          Kind
		wantPath      string
		wantExtractor bool
	}{
		{KindHealth, "/actuator/health", true},
		{KindPrometheus, "/api/v1/status/config", false},
		{KindCustom, "/", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			target, err := NewTarget("svc", "http://localhost:8080", tt.kind)
			if err != nil {
				t.Fatalf("NewTarget() error = %v", err)
			}
			if target.HealthPath() != tt.wantPath {
				t.Errorf("HealthPath() = %q, want %q", target.HealthPath(), tt.wantPath)
			}
			if target.Timeout() != 2*time.Second {
				t.Errorf("Timeout() = %v, want 2s", target.Timeout())
			}
			if (target.Extractor() != nil) != tt.wantExtractor {
				t.Errorf("Extractor() set = %v, want %v", target.Extractor() != nil, tt.wantExtractor)
			}
			if target.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", target.Kind(), tt.kind)
			}
		})
	}
}

func TestNewTarget_EmptyKindIsCustom(t *testing.T) {
	target, err := NewTarget("svc", "http://localhost", "")
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	if target.Kind() != KindCustom {
		t.Errorf("Kind() = %q, want custom", target.Kind())
	}
}

func TestNewTarget_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		tname   string
		url     string
		kind    Kind
		wantErr string
	}{
		{"empty name", "", "http://localhost", KindHealth, "name cannot be empty"},
		{"no scheme", "svc", "localhost:8080", KindHealth, "scheme"},
		{"ftp scheme", "svc", "ftp://localhost", KindHealth, "scheme"},
		{"no host", "svc", "http://", KindHealth, "host"},
		{"bad url", "svc", "http://[::1", KindHealth, "invalid URL"},
		{"unknown kind", "svc", "http://localhost", Kind("grpc"), "unknown kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTarget(tt.tname, tt.url, tt.kind)
			if err == nil {
				t.Fatal("NewTarget() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewTarget_Options(t *testing.T) {
	target, err := NewTarget("orders", "http://orders:8080", KindHealth,
		WithHealthPath("/health/ready"),
		WithMetricsPath("/actuator/prometheus"),
		WithHeaders("Authorization", "Bearer t"),
		WithTimeout(5*time.Second),
		WithBody([]byte(`{"deep":true}`)),
		WithMethod(http.MethodPost),
	)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}

	if target.HealthPath() != "/health/ready" {
		t.Errorf("HealthPath() = %q", target.HealthPath())
	}
	if target.MetricsPath() != "/actuator/prometheus" {
		t.Errorf("MetricsPath() = %q", target.MetricsPath())
	}
	if target.Headers()["Authorization"] != "Bearer t" {
		t.Errorf("Headers() = %v", target.Headers())
	}
	if target.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v", target.Timeout())
	}
	if string(target.Body()) != `{"deep":true}` {
		t.Errorf("Body() = %s", target.Body())
	}
	if target.Method() != http.MethodPost {
		t.Errorf("Method() = %q", target.Method())
	}
}

func TestNewTarget_OptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opt  TargetOption
	}{
		{"relative health path", WithHealthPath("health")},
		{"relative metrics path", WithMetricsPath("metrics")},
		{"odd headers", WithHeaders("Authorization")},
		{"zero timeout", WithTimeout(0)},
		{"negative timeout", WithTimeout(-time.Second)},
		{"timeout too long", WithTimeout(2 * time.Minute)},
		{"bad method", WithMethod(http.MethodDelete)},
		{"bad status query", WithStatusQuery(".status[")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTarget("svc", "http://localhost", KindHealth, tt.opt)
			if err == nil {
				t.Error("NewTarget() expected error, got nil")
			}
			if err != nil && !strings.Contains(err.Error(), `target "svc"`) {
				t.Errorf("error %v does not name the target", err)
			}
		})
	}
}

func TestNewTarget_WithExtractorNil(t *testing.T) {
	target, err := NewTarget("svc", "http://localhost", KindHealth, WithExtractor(nil))
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	if target.Extractor() != nil {
		t.Error("Extractor() should be nil after WithExtractor(nil)")
	}
}

func TestNewTarget_WithStatusQuery(t *testing.T) {
	target, err := NewTarget("svc", "http://localhost", KindCustom, WithStatusQuery(".state"))
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}

	got, reported, err := target.Extractor()([]byte(`{"state":"running"}`))
	if err != nil || got != StatusUp || reported != "running" {
		t.Errorf("extractor = %v %q %v, want UP running", got, reported, err)
	}
}

func TestTarget_Immutable(t *testing.T) {
	body := []byte(`{"a":1}`)
	target, err := NewTarget("svc", "http://localhost", KindCustom,
		WithHeaders("X-Key", "v1"),
		WithBody(body),
	)
	if err != nil {
		t.Fatal(err)
	}

	body[0] = 'X'
	target.Headers()["X-Key"] = "changed"
	target.Body()[0] = 'Y'

	if target.Headers()["X-Key"] != "v1" {
		t.Error("Headers() exposed internal map")
	}
	if string(target.Body()) != `{"a":1}` {
		t.Errorf("Body() = %s, want original", target.Body())
	}
}
