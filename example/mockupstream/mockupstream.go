// Package mockupstream serves fake versions of the upstreams PulseProxy
// talks to, for demos and manual testing: a Spring actuator whose status
// cycles, a Prometheus HTTP API, a Grafana health endpoint and a log
// write gateway. Everything is served from one listener.
package mockupstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// actuator statuses cycled through by /actuator/health
var statuses = []string{"UP", "DOWN", "OUT_OF_SERVICE"}

// Options configures the mock.
type Options struct {
	// MinChange and MaxChange bound how long the actuator keeps a status.
	// Zero means 20s and 60s.
	MinChange, MaxChange time.Duration

	// Latency is the maximum random delay added to health responses.
	Latency time.Duration
}

// Upstream is the mock's state.
type Upstream struct {
	opts   Options
	logger *zap.Logger

	mu           sync.Mutex
	statusIdx    int
	nextChangeAt time.Time
	requests     map[string]float64
	logs         map[string]json.RawMessage
}

// New creates an Upstream that starts healthy.
func New(opts Options, logger *zap.Logger) *Upstream {
	if opts.MinChange <= 0 {
		opts.MinChange = 20 * time.Second
	}
	if opts.MaxChange < opts.MinChange {
		opts.MaxChange = opts.MinChange + 40*time.Second
	}
	u := &Upstream{
		opts:     opts,
		logger:   logger,
		requests: make(map[string]float64),
		logs:     make(map[string]json.RawMessage),
	}
	u.nextChangeAt = time.Now().Add(u.changeDelay())
	return u
}

func (u *Upstream) changeDelay() time.Duration {
	spread := int64(u.opts.MaxChange - u.opts.MinChange)
	if spread <= 0 {
		return u.opts.MinChange
	}
	return u.opts.MinChange + time.Duration(rand.Int63n(spread+1))
}

// Handler returns the routes of every mocked upstream.
func (u *Upstream) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(u.count)

	r.Get("/actuator/health", u.handleActuatorHealth)
	r.Get("/actuator/prometheus", u.handleExposition)

	r.Get("/api/v1/status/config", u.handlePromConfig)
	r.Get("/api/v1/query", u.handlePromQuery)
	r.Get("/api/v1/query_range", u.handlePromQueryRange)
	r.Get("/api/v1/label/{name}/values", u.handlePromLabelValues)

	r.Get("/api/health", u.handleGrafanaHealth)

	r.Post("/api/logs", u.handleWriteLog)
	r.Get("/api/logs/{key}", u.handleReadLog)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (u *Upstream) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: u.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.ListenAndServe() }()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (u *Upstream) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.requests[r.URL.Path]++
		u.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Status returns the actuator's current status, advancing it when its time
// is up.
func (u *Upstream) Status() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if time.Now().After(u.nextChangeAt) {
		from := statuses[u.statusIdx]
		u.statusIdx = (u.statusIdx + 1) % len(statuses)
		u.nextChangeAt = time.Now().Add(u.changeDelay())
		u.logger.Info("status_changed", zap.String("from", from), zap.String("to", statuses[u.statusIdx]))
	}
	return statuses[u.statusIdx]
}

func (u *Upstream) handleActuatorHealth(w http.ResponseWriter, r *http.Request) {
	if u.opts.Latency > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(u.opts.Latency))))
	}

	status := u.Status()
	code := http.StatusOK
	if status != "UP" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"db":        map[string]string{"status": status},
			"diskSpace": map[string]string{"status": "UP"},
		},
	})
}

func (u *Upstream) handleExposition(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	paths := make(map[string]float64, len(u.requests))
	for p, n := range u.requests {
		paths[p] = n
	}
	u.mu.Unlock()

	requests := &dto.MetricFamily{
		Name: ptr("http_requests_total"),
		Help: ptr("Requests served by the mock, by path."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for p, n := range paths {
		requests.Metric = append(requests.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: ptr("uri"), Value: ptr(p)}},
			Counter: &dto.Counter{Value: ptr(n)},
		})
	}
	threads := &dto.MetricFamily{
		Name: ptr("jvm_threads_live"),
		Help: ptr("Live threads."),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: ptr(float64(20 + rand.Intn(10)))}},
		},
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	for _, mf := range []*dto.MetricFamily{requests, threads} {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			u.logger.Warn("exposition_write_failed", zap.Error(err))
			return
		}
	}
}

func (u *Upstream) handlePromConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]string{"yaml": "global:\n  scrape_interval: 15s\n"},
	})
}

func promError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"status":    "error",
		"errorType": "bad_data",
		"error":     msg,
	})
}

func (u *Upstream) handlePromQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		promError(w, "invalid parameter \"query\": empty query")
		return
	}
	now := float64(time.Now().Unix())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"resultType": "vector",
			"result": []any{
				map[string]any{
					"metric": map[string]string{"__name__": query, "job": "mock"},
					"value":  []any{now, "1"},
				},
			},
		},
	})
}

func (u *Upstream) handlePromQueryRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		promError(w, "invalid parameter \"query\": empty query")
		return
	}
	start, err1 := strconv.ParseFloat(q.Get("start"), 64)
	end, err2 := strconv.ParseFloat(q.Get("end"), 64)
	if err1 != nil || err2 != nil || end < start {
		promError(w, "invalid parameter \"start\" or \"end\"")
		return
	}
	step, err := time.ParseDuration(q.Get("step"))
	if err != nil {
		if secs, perr := strconv.ParseFloat(q.Get("step"), 64); perr == nil {
			step = time.Duration(secs * float64(time.Second))
		} else {
			promError(w, "invalid parameter \"step\"")
			return
		}
	}
	if step <= 0 {
		promError(w, "zero or negative query resolution step widths are not accepted")
		return
	}

	var values []any
	for ts := start; ts <= end && len(values) < 11000; ts += step.Seconds() {
		values = append(values, []any{ts, strconv.FormatFloat(50+25*math.Sin(ts/300), 'f', 3, 64)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"resultType": "matrix",
			"result": []any{
				map[string]any{
					"metric": map[string]string{"__name__": query, "job": "mock"},
					"values": values,
				},
			},
		},
	})
}

func (u *Upstream) handlePromLabelValues(w http.ResponseWriter, r *http.Request) {
	var values []string
	if chi.URLParam(r, "name") == "__name__" {
		values = []string{"http_requests_total", "jvm_threads_live", "up"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": values})
}

func (u *Upstream) handleGrafanaHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"database": "ok", "version": "10.4.0"})
}

func (u *Upstream) handleWriteLog(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var entry struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must carry a key and a value"})
		return
	}

	consistency := r.URL.Query().Get("consistency")
	if consistency == "ALL" && u.Status() != "UP" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": fmt.Sprintf("consistency %s not reached", consistency),
		})
		return
	}

	u.mu.Lock()
	u.logs[entry.Key] = entry.Value
	u.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"key":         entry.Key,
		"consistency": consistency,
		"request_id":  r.Header.Get("X-Request-ID"),
	})
}

func (u *Upstream) handleReadLog(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}

	u.mu.Lock()
	value, ok := u.logs[key]
	u.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ptr[T any](v T) *T {
	return &v
}
