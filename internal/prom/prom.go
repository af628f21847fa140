// Package prom forwards Prometheus HTTP API queries to a metrics backend.
//
// Query expressions are never parsed or rewritten. Successful answers are
// returned byte-for-byte; failures come back as *upstream.Error.
package prom

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pulseproxy/internal/upstream"
)

const (
	// DefaultTimeout bounds each forwarded query.
	DefaultTimeout = 10 * time.Second

	// DefaultRange is how far back query_range reaches when start is omitted.
	DefaultRange = time.Hour

	// DefaultStep is the query_range resolution when step is omitted.
	DefaultStep = "15s"
)

// Result is a successful backend answer.
type Result struct {
	// Body is the backend's response body, unmodified.
	Body []byte

	// ContentType is the backend's Content-Type header.
	ContentType string
}

// RangeParams are the query_range inputs. Empty fields take their defaults:
// start is one hour before end, end is now, step is DefaultStep.
type RangeParams struct {
	Query string
	Start string
	End   string
	Step  string
}

// Client forwards queries to one Prometheus-compatible backend.
type Client struct {
	http    *upstream.Client
	name    string
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

// New creates a [Client] for the backend called name at baseURL. A zero
// timeout means DefaultTimeout.
func New(httpClient *upstream.Client, name, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    httpClient,
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Name returns the backend's target name.
func (c *Client) Name() string {
	return c.name
}

// Query forwards an instant query to /api/v1/query. at is the optional
// evaluation time, passed through as given.
func (c *Client) Query(ctx context.Context, query, at string) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, upstream.BadRequest("query parameter is required")
	}

	params := url.Values{}
	params.Set("query", query)
	if at != "" {
		params.Set("time", at)
	}
	return c.get(ctx, "/api/v1/query", params)
}

// QueryRange forwards a range query to /api/v1/query_range.
func (c *Client) QueryRange(ctx context.Context, p RangeParams) (Result, error) {
	if strings.TrimSpace(p.Query) == "" {
		return Result{}, upstream.BadRequest("query parameter is required")
	}

	now := c.now()
	if p.End == "" {
		p.End = strconv.FormatInt(now.Unix(), 10)
	}
	if p.Start == "" {
		p.Start = strconv.FormatInt(now.Add(-DefaultRange).Unix(), 10)
	}
	if p.Step == "" {
		p.Step = DefaultStep
	}

	params := url.Values{}
	params.Set("query", p.Query)
	params.Set("start", p.Start)
	params.Set("end", p.End)
	params.Set("step", p.Step)
	return c.get(ctx, "/api/v1/query_range", params)
}

// LabelValues forwards /api/v1/label/<label>/values. With label "__name__"
// this lists every metric name the backend knows.
func (c *Client) LabelValues(ctx context.Context, label string) (Result, error) {
	if label == "" {
		return Result{}, upstream.BadRequest("label is required")
	}
	return c.get(ctx, "/api/v1/label/"+url.PathEscape(label)+"/values", nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (Result, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	resp := c.http.Do(ctx, upstream.Request{
		URL:     target,
		Timeout: c.timeout,
	})
	if err := upstream.Classify(c.name, c.baseURL, resp); err != nil {
		return Result{}, err
	}
	return Result{Body: resp.Body, ContentType: resp.ContentType}, nil
}
