package mockupstream

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

func newServer(t *testing.T, opts Options) (*Upstream, *httptest.Server) {
	t.Helper()
	u := New(opts, zap.NewNop())
	srv := httptest.NewServer(u.Handler())
	t.Cleanup(srv.Close)
	return u, srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestActuatorHealth_Cycles(t *testing.T) {
	_, srv := newServer(t, Options{MinChange: time.Nanosecond, MaxChange: time.Nanosecond})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		code, body := get(t, srv.URL+"/actuator/health")
		var payload struct{ Status string }
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if (payload.Status == "UP") != (code == http.StatusOK) {
			t.Errorf("status %s served with %d", payload.Status, code)
		}
		seen[payload.Status] = true
	}
	if len(seen) != 3 {
		t.Errorf("saw statuses %v, want all three", seen)
	}
}

func TestExposition(t *testing.T) {
	_, srv := newServer(t, Options{})
	get(t, srv.URL+"/api/health")

	code, body := get(t, srv.URL+"/actuator/prometheus")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("exposition does not parse: %v\n%s", err, body)
	}
	if _, ok := families["http_requests_total"]; !ok {
		t.Error("missing http_requests_total")
	}
	if _, ok := families["jvm_threads_live"]; !ok {
		t.Error("missing jvm_threads_live")
	}
}

func TestPromQueryRange(t *testing.T) {
	_, srv := newServer(t, Options{})

	code, body := get(t, srv.URL+"/api/v1/query_range?query=up&start=1000&end=1060&step=15s")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	var resp struct {
		Status string
		Data   struct {
			ResultType string `json:"resultType"`
			Result     []struct {
				Values [][]any `json:"values"`
			}
		}
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Data.ResultType != "matrix" {
		t.Errorf("resp = %+v", resp)
	}
	if n := len(resp.Data.Result[0].Values); n != 5 {
		t.Errorf("got %d samples, want 5", n)
	}

	code, body = get(t, srv.URL+"/api/v1/query_range?start=1&end=2&step=1")
	if code != http.StatusBadRequest || !strings.Contains(string(body), "bad_data") {
		t.Errorf("missing query: %d %s", code, body)
	}
}

func TestLogs(t *testing.T) {
	_, srv := newServer(t, Options{})

	resp, err := http.Post(srv.URL+"/api/logs?consistency=QUORUM", "application/json",
		strings.NewReader(`{"key":"a/b","value":{"n":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("write status = %d", resp.StatusCode)
	}

	code, body := get(t, srv.URL+"/api/logs/a%2Fb")
	if code != http.StatusOK || !strings.Contains(string(body), `"n":1`) {
		t.Errorf("read: %d %s", code, body)
	}

	code, body = get(t, srv.URL+"/api/logs/missing")
	if code != http.StatusNotFound || !strings.Contains(string(body), "key not found") {
		t.Errorf("read missing: %d %s", code, body)
	}
}
