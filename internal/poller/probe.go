package poller

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// DefaultTimeout is the per-probe budget when a target sets none.
const DefaultTimeout = 2 * time.Second

// Verdict is what a [StatusExtractor] read out of a health payload.
type Verdict struct {
	// Reported is the status value exactly as the upstream reported it.
	Reported string

	// Up is true when Reported means healthy.
	Up bool

	// Known is false when the payload carried no status. The HTTP verdict
	// then stands.
	Known bool
}

// StatusExtractor reads a health verdict from a 2xx response body.
//
// This is the poller-internal form of pulseproxy.StatusExtractor, kept here
// to avoid an import cycle.
type StatusExtractor func(body []byte) (Verdict, error)

// TargetInfo contains what the poller needs to probe one target.
//
// This is the poller-internal representation of a target, decoupled from
// pulseproxy.Target to avoid circular dependencies.
type TargetInfo struct {
	// Name is the unique target name.
	Name string

	// Kind is health, prometheus or custom.
	Kind string

	// BaseURL is the scheme, host and optional path prefix of the target.
	BaseURL string

	// HealthPath is appended to BaseURL for the health probe.
	HealthPath string

	// MetricsPath, when set, is scraped as Prometheus text each round.
	MetricsPath string

	// Method is the HTTP method. Empty means GET, or POST when Body is set.
	Method string

	// Headers are sent with every request to the target.
	Headers map[string]string

	// Body is sent with the health probe.
	Body []byte

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// Extractor interprets successful health payloads. Nil keeps the HTTP verdict.
	Extractor StatusExtractor
}

// URL joins BaseURL and path.
func (t TargetInfo) URL(path string) string {
	return JoinURL(t.BaseURL, path)
}

func (t TargetInfo) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// JoinURL appends path to base with exactly one slash between them.
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Prober issues probes against targets. It is safe for concurrent use.
type Prober struct {
	client *upstream.Client
	logger *zap.Logger
}

// NewProber creates a [Prober] that sends requests through client.
func NewProber(client *upstream.Client, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{client: client, logger: logger}
}

// Probe makes one request to target's BaseURL plus path under timeout.
//
// Probe never fails: transport errors, non-2xx answers and timeouts all come
// back as a result with Success false and a readable Error. On success the
// payload is kept only when it is valid JSON.
func (p *Prober) Probe(ctx context.Context, t TargetInfo, path string, timeout time.Duration) store.ProbeResult {
	result, _ := p.probe(ctx, t, path, timeout)
	return result
}

func (p *Prober) probe(ctx context.Context, t TargetInfo, path string, timeout time.Duration) (store.ProbeResult, []byte) {
	url := t.URL(path)
	resp := p.client.Do(ctx, upstream.Request{
		Method:  t.Method,
		URL:     url,
		Headers: t.Headers,
		Body:    t.Body,
		Timeout: timeout,
	})

	result := store.ProbeResult{
		Name:       t.Name,
		Kind:       t.Kind,
		URL:        url,
		StatusCode: resp.StatusCode,
		LatencyMs:  resp.Latency.Milliseconds(),
		CheckedAt:  time.Now(),
	}

	if uerr := upstream.Classify(t.Name, t.BaseURL, resp); uerr != nil {
		result.Error = probeError(uerr)
		return result, resp.Body
	}

	result.Success = true
	if json.Valid(resp.Body) {
		result.Payload = json.RawMessage(resp.Body)
	}
	return result, resp.Body
}

// probeError renders a classified failure for the dashboard.
func probeError(e *upstream.Error) string {
	if e.Kind == upstream.KindBackendError && e.Status >= 300 {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// Check runs the full per-round check of a target: the health probe with
// status extraction and, when MetricsPath is set, a concurrent exposition
// scrape. A failed scrape is recorded in MetricsError and leaves Success alone.
func (p *Prober) Check(ctx context.Context, t TargetInfo) store.ProbeResult {
	var (
		wg           sync.WaitGroup
		families     map[string]*dto.MetricFamily
		metricsError string
	)
	if t.MetricsPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			families, metricsError = p.scrape(ctx, t)
		}()
	}

	result, body := p.probe(ctx, t, t.HealthPath, t.timeout())
	if result.Success && t.Extractor != nil {
		p.applyExtractor(t, &result, body)
	}

	wg.Wait()
	if t.MetricsPath != "" {
		result.MetricsError = metricsError
		if families != nil {
			result.Families = families
			result.Metrics = SumFamilies(families)
		}
	}
	return result
}

func (p *Prober) applyExtractor(t TargetInfo, result *store.ProbeResult, body []byte) {
	verdict, err := p.safeExtract(t.Name, t.Extractor, body)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return
	}
	if !verdict.Known {
		return
	}
	if !verdict.Up {
		result.Success = false
		result.Error = fmt.Sprintf("reported status %q", verdict.Reported)
	}
}

// safeExtract calls the extractor with panic recovery.
// If the extractor panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (p *Prober) safeExtract(target string, extractor StatusExtractor, body []byte) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			p.logger.Error("extractor_panic",
				zap.String("target", target),
				zap.String("correlation_id", correlationID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)

			verdict = Verdict{}
			err = fmt.Errorf("status extraction failed (correlation_id: %s)", correlationID)
		}
	}()

	verdict, err = extractor(body)
	if err != nil {
		return Verdict{}, fmt.Errorf("status extraction failed: %w", err)
	}
	return verdict, nil
}

// scrape fetches and parses the target's Prometheus exposition.
func (p *Prober) scrape(ctx context.Context, t TargetInfo) (map[string]*dto.MetricFamily, string) {
	headers := make(map[string]string, len(t.Headers)+1)
	for k, v := range t.Headers {
		headers[k] = v
	}
	headers["Accept"] = string(expfmt.NewFormat(expfmt.TypeTextPlain))

	resp := p.client.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		URL:     t.URL(t.MetricsPath),
		Headers: headers,
		Timeout: t.timeout(),
	})
	if uerr := upstream.Classify(t.Name, t.BaseURL, resp); uerr != nil {
		return nil, probeError(uerr)
	}

	families, err := ParseExposition(resp.Body)
	if err != nil {
		p.logger.Debug("metrics_parse_failed",
			zap.String("target", t.Name),
			zap.Error(err),
		)
		return nil, err.Error()
	}
	return families, ""
}
