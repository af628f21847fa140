package pulseproxy

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mustTarget(t *testing.T, name string, kind Kind) Target {
	t.Helper()
	target, err := NewTarget(name, "http://"+name+".local", kind)
	if err != nil {
		t.Fatalf("NewTarget(%q) error = %v", name, err)
	}
	return target
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(WithTarget(mustTarget(t, "api", KindHealth)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if p.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", p.Port())
	}
	if p.RefreshInterval() != 5*time.Second {
		t.Errorf("RefreshInterval() = %v, want 5s", p.RefreshInterval())
	}
	if p.DefaultMetricsBackend() != "" {
		t.Errorf("DefaultMetricsBackend() = %q, want empty", p.DefaultMetricsBackend())
	}
	if len(p.Targets()) != 1 {
		t.Errorf("len(Targets()) = %d, want 1", len(p.Targets()))
	}
}

func TestNew_NoTargets(t *testing.T) {
	if _, err := New(); err == nil {
		t.Error("New() expected error for no targets, got nil")
	}
}

func TestNew_DuplicateTargetNames(t *testing.T) {
	a := mustTarget(t, "api", KindHealth)
	b, _ := NewTarget("api", "http://other.local", KindCustom)

	_, err := New(WithTarget(a), WithTargets(b))
	if err == nil || !strings.Contains(err.Error(), "duplicate target name") {
		t.Errorf("New() error = %v, want duplicate target name", err)
	}
}

func TestNew_DefaultBackendPicksFirstPrometheus(t *testing.T) {
	p, err := New(WithTargets(
		mustTarget(t, "api", KindHealth),
		mustTarget(t, "prom-a", KindPrometheus),
		mustTarget(t, "prom-b", KindPrometheus),
	))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.DefaultMetricsBackend() != "prom-a" {
		t.Errorf("DefaultMetricsBackend() = %q, want prom-a", p.DefaultMetricsBackend())
	}
}

func TestNew_DefaultBackendExplicit(t *testing.T) {
	targets := WithTargets(
		mustTarget(t, "api", KindHealth),
		mustTarget(t, "prom-a", KindPrometheus),
		mustTarget(t, "prom-b", KindPrometheus),
	)

	p, err := New(targets, WithDefaultMetricsBackend("prom-b"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.DefaultMetricsBackend() != "prom-b" {
		t.Errorf("DefaultMetricsBackend() = %q, want prom-b", p.DefaultMetricsBackend())
	}

	if _, err := New(targets, WithDefaultMetricsBackend("api")); err == nil {
		t.Error("expected error for non-prometheus default backend")
	}
	if _, err := New(targets, WithDefaultMetricsBackend("missing")); err == nil {
		t.Error("expected error for unknown default backend")
	}
}

func TestNew_GatewayMustNameTarget(t *testing.T) {
	api := WithTarget(mustTarget(t, "api", KindHealth))

	if _, err := New(api, WithGateway(GatewayConfig{Target: "api"})); err != nil {
		t.Errorf("New() error = %v", err)
	}
	if _, err := New(api, WithGateway(GatewayConfig{Target: "nope"})); err == nil {
		t.Error("expected error for unknown gateway target")
	}
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"interval below 1s", WithRefreshInterval(500 * time.Millisecond)},
		{"port 0", WithPort(0)},
		{"port too high", WithPort(70000)},
		{"zero concurrency", WithMaxConcurrency(0)},
		{"nil logger", WithLogger(nil)},
		{"empty gateway target", WithGateway(GatewayConfig{})},
		{"negative gateway timeout", WithGateway(GatewayConfig{Target: "api", Timeout: -time.Second})},
		{"zero query timeout", WithQueryTimeout(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithTarget(mustTarget(t, "api", KindHealth)), tt.opt)
			if err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestOptions_Valid(t *testing.T) {
	p, err := New(
		WithTarget(mustTarget(t, "api", KindHealth)),
		WithRefreshInterval(30*time.Second),
		WithPort(9090),
		WithMaxConcurrency(3),
		WithLogger(zap.NewNop()),
		WithTitle("Ops"),
		WithSampleData(true),
		WithQueryTimeout(time.Second),
		WithHealthCallback(nil),
		WithHealthCallback(func(Health) {}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if p.RefreshInterval() != 30*time.Second || p.Port() != 9090 {
		t.Errorf("interval/port = %v/%d", p.RefreshInterval(), p.Port())
	}
	if p.maxConcurrency != 3 || p.title != "Ops" || !p.sampleData || p.queryTimeout != time.Second {
		t.Errorf("proxy = %+v", p)
	}
	if len(p.healthCallbacks) != 1 {
		t.Errorf("len(healthCallbacks) = %d, want 1 (nil ignored)", len(p.healthCallbacks))
	}
}

func TestTargets_ReturnsCopy(t *testing.T) {
	p, err := New(WithTarget(mustTarget(t, "api", KindHealth)))
	if err != nil {
		t.Fatal(err)
	}

	targets := p.Targets()
	targets[0] = mustTarget(t, "other", KindCustom)

	if p.Targets()[0].Name() != "api" {
		t.Error("Targets() exposed internal slice")
	}
}
