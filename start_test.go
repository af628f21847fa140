package pulseproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

const rangeBody = `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"__name__":"up"},"values":[[1000,"1"],[1015,"1"]]}]}}`

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// actuator answers /actuator/health with the given status.
func actuator(t *testing.T, status string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":%q}`, status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func prometheus(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v1/query_range" {
			_, _ = w.Write([]byte(rangeBody))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"yaml":""}}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// runProxy starts p in the background and waits until it answers /healthz.
func runProxy(t *testing.T, p *Proxy) (base string, stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	base = fmt.Sprintf("http://127.0.0.1:%d", p.Port())
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("proxy did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	return base, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return after context cancellation")
		}
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, body)
		}
	}
	return resp.StatusCode
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	p, err := New(WithTarget(mustTarget(t, "api", KindHealth)), WithPort(freePort(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return for cancelled context")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	p, err := New(WithTarget(mustTarget(t, "api", KindHealth)), WithPort(ln.Addr().(*net.TCPAddr).Port))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err == nil {
		t.Error("Start() expected error for a bound port")
	}
}

func TestStart_ServesAggregateAndPassthrough(t *testing.T) {
	up := actuator(t, "UP")
	down := actuator(t, "OUT_OF_SERVICE")
	prom := prometheus(t)

	gw, _ := NewTarget("api-gateway", up.URL, KindHealth)
	orders, _ := NewTarget("orders", down.URL, KindHealth)
	pr, _ := NewTarget("prometheus", prom.URL, KindPrometheus)

	p, err := New(WithTargets(gw, orders, pr), WithPort(freePort(t)), WithRefreshInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	base, stop := runProxy(t, p)
	defer stop()

	var health map[string]struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if code := getJSON(t, base+"/api/health", &health); code != http.StatusOK {
		t.Fatalf("/api/health status = %d", code)
	}
	if len(health) != 3 {
		t.Fatalf("len(health) = %d, want 3", len(health))
	}
	if health["api-gateway"].Status != "UP" || health["prometheus"].Status != "UP" {
		t.Errorf("health = %+v", health)
	}
	if health["orders"].Status != "DOWN" || health["orders"].Error != `reported status "OUT_OF_SERVICE"` {
		t.Errorf("orders = %+v", health["orders"])
	}

	resp, err := http.Get(base + "/api/metrics/query_range?query=up&start=1000&end=2000&step=15s")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != rangeBody {
		t.Errorf("query_range body = %s, want %s", body, rangeBody)
	}

	if code := getJSON(t, base+"/api/metrics/query", nil); code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", code)
	}
}

func TestStart_HealthCallbacks(t *testing.T) {
	up := actuator(t, "UP")
	target, _ := NewTarget("api", up.URL, KindHealth)

	var (
		mu    sync.Mutex
		calls []Health
		got   = make(chan struct{}, 1)
	)
	p, err := New(
		WithTarget(target),
		WithPort(freePort(t)),
		WithRefreshInterval(time.Hour),
		WithHealthCallback(func(Health) { panic("boom") }),
		WithHealthCallback(func(h Health) {
			mu.Lock()
			calls = append(calls, h)
			mu.Unlock()
			select {
			case got <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, stop := runProxy(t, p)
	defer stop()

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("callback not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls[0].Target != "api" || calls[0].Status != StatusUp || calls[0].Kind != KindHealth {
		t.Errorf("callback got %+v", calls[0])
	}

	health, ok := p.Health()
	if !ok || len(health) != 1 || health[0].Status != StatusUp {
		t.Errorf("Health() = %+v, %v", health, ok)
	}
}

func TestCheck(t *testing.T) {
	up := actuator(t, "UP")
	down := actuator(t, "DOWN")
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	a, _ := NewTarget("a", up.URL, KindHealth)
	b, _ := NewTarget("b", down.URL, KindHealth)
	c, _ := NewTarget("c", failing.URL, KindCustom)

	p, err := New(WithTargets(c, a, b))
	if err != nil {
		t.Fatal(err)
	}

	got := p.Check(context.Background())

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []struct {
		name   string
		status Status
	}{{"a", StatusUp}, {"b", StatusDown}, {"c", StatusDown}}
	for i, w := range want {
		if got[i].Target != w.name || got[i].Status != w.status {
			t.Errorf("got[%d] = %s %s, want %s %s", i, got[i].Target, got[i].Status, w.name, w.status)
		}
	}
	if got[2].StatusCode != http.StatusInternalServerError {
		t.Errorf("c.StatusCode = %d, want 500", got[2].StatusCode)
	}

	if _, ok := p.Health(); ok {
		t.Error("Check() must not populate the cache")
	}
}

func TestCheck_HealthTargetWithoutStatusObject(t *testing.T) {
	bodies := map[string]string{"string": `"UP"`, "array": `["ok"]`, "number": `1`}

	var targets []Target
	for name, body := range bodies {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)

		target, err := NewTarget(name, srv.URL, KindHealth)
		if err != nil {
			t.Fatal(err)
		}
		targets = append(targets, target)
	}

	p, err := New(WithTargets(targets...))
	if err != nil {
		t.Fatal(err)
	}

	for _, h := range p.Check(context.Background()) {
		if h.Status != StatusUp || h.Error != "" {
			t.Errorf("%s: status = %s error = %q, want UP", h.Target, h.Status, h.Error)
		}
	}
}
