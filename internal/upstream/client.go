package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBodySize caps how much of an upstream body is buffered. Prometheus
// range queries over many series are the largest payloads we proxy.
const maxResponseBodySize = 8 << 20 // 8MB

// ErrBodyTooLarge is reported in [Response.Error] when an upstream body
// exceeds the buffering cap. The partial body is dropped.
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseBodySize)

// connection pooling limits; target counts are small but dashboards poll often
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes one call to an upstream service.
type Request struct {
	// Method is the HTTP method. Empty means GET, or POST when Body is set.
	Method string

	// URL is the absolute upstream URL, including any query string.
	URL string

	// Headers are set on the outgoing request.
	Headers map[string]string

	// Body is sent as-is. A JSON content type is assumed unless Headers says otherwise.
	Body []byte

	// Timeout bounds the whole exchange, including reading the body.
	Timeout time.Duration
}

// Response holds the result of a call made by [Client].
//
// Response captures the body (limited in size), status code, latency and any
// transport error. A non-2xx status is not an error at this level; callers
// decide what a status means.
type Response struct {
	// Body contains the response body.
	Body []byte

	// StatusCode is the HTTP status code. Zero if no response was received.
	StatusCode int

	// ContentType is the upstream Content-Type header.
	ContentType string

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any transport error. nil means a response was received.
	Error error
}

// Client is an HTTP client wrapper shared by probes, query passthrough and
// gateway forwarding.
//
// Timeouts are applied per request via context rather than on the client,
// so health probes and long range queries can use different budgets.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a [Client] with pooled connections.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Do performs the request and returns a structured [Response].
//
// Do always returns a Response; errors are captured in the Error field rather
// than returned separately. The request is never retried.
func (c *Client) Do(ctx context.Context, r Request) Response {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()

	method := r.Method
	if method == "" {
		method = http.MethodGet
		if r.Body != nil {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	// one byte past the cap tells a body at the limit from a longer one
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err == nil && len(data) > maxResponseBodySize {
		err = ErrBodyTooLarge
	}
	if err != nil {
		return Response{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Latency:     time.Since(start),
			Error:       fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:        data,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Latency:     time.Since(start),
	}
}

// OK reports whether a response was received with a 2xx status.
func (r Response) OK() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Close closes idle connections in the pool. Safe on a nil receiver and
// safe to call more than once; the client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
