// Package gateway forwards key/value writes and reads to the backing log
// storage gateway.
//
// Every client request is forwarded at most once. Writes are never retried,
// so a timed-out write may or may not have been applied upstream.
package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
)

const (
	// DefaultWritePath receives forwarded writes.
	DefaultWritePath = "/api/logs"

	// DefaultReadPath serves reads; {key} is replaced by the escaped key.
	DefaultReadPath = "/api/logs/{key}"

	// DefaultTimeout bounds each forwarded call.
	DefaultTimeout = 30 * time.Second

	// DefaultConsistency is sent when the caller names no consistency level.
	DefaultConsistency = "QUORUM"

	// RequestIDHeader carries the per-call id to the gateway.
	RequestIDHeader = "X-Request-ID"
)

// Config describes the backing gateway.
type Config struct {
	// Name is the target name used in error messages.
	Name string

	// BaseURL is the gateway's scheme and host.
	BaseURL string

	// WritePath and ReadPath default to DefaultWritePath and DefaultReadPath.
	WritePath string
	ReadPath  string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// WriteRequest is the body accepted by Write.
type WriteRequest struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Consistency string          `json:"consistency,omitempty"`
}

// Result is the outcome of a forwarded call.
type Result struct {
	// RequestID is the X-Request-ID sent upstream. Set on failure too.
	RequestID string

	// Data is the gateway's answer: its body when that is JSON, otherwise
	// the body as a JSON string.
	Data json.RawMessage
}

// Client forwards to one gateway.
type Client struct {
	http *upstream.Client
	cfg  Config
}

// New creates a [Client], filling unset Config fields with defaults.
func New(httpClient *upstream.Client, cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.WritePath == "" {
		cfg.WritePath = DefaultWritePath
	}
	if cfg.ReadPath == "" {
		cfg.ReadPath = DefaultReadPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{http: httpClient, cfg: cfg}
}

// Name returns the gateway's target name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// ParseWriteRequest decodes and validates a write body. It must be a JSON
// object with a non-empty key and a non-empty value.
func ParseWriteRequest(body []byte) (WriteRequest, error) {
	var req WriteRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return req, upstream.BadRequest("request body is required")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, upstream.BadRequest("request body must be a JSON object with key and value")
	}
	if strings.TrimSpace(req.Key) == "" || emptyValue(req.Value) {
		return req, upstream.BadRequest("key and value are required")
	}
	return req, nil
}

func emptyValue(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	return s == "" || s == "null" || s == `""`
}

// Write forwards req once to the write path. query is the caller's query
// string; consistency defaults to DefaultConsistency when neither query nor
// req names one.
func (c *Client) Write(ctx context.Context, req WriteRequest, query url.Values) (Result, error) {
	res := Result{RequestID: uuid.NewString()}

	body, err := json.Marshal(struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}{req.Key, req.Value})
	if err != nil {
		return res, upstream.BadRequest("encode write: %v", err)
	}

	params := cloneValues(query)
	if params.Get("consistency") == "" {
		consistency := req.Consistency
		if consistency == "" {
			consistency = DefaultConsistency
		}
		params.Set("consistency", consistency)
	}

	resp := c.http.Do(ctx, upstream.Request{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + c.cfg.WritePath + "?" + params.Encode(),
		Headers: map[string]string{RequestIDHeader: res.RequestID},
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if uerr := upstream.Classify(c.cfg.Name, c.cfg.BaseURL, resp); uerr != nil {
		return res, uerr
	}

	res.Data = asJSON(resp.Body)
	return res, nil
}

// Read forwards a read of key. An upstream 404 becomes a 404 "key not found".
func (c *Client) Read(ctx context.Context, key string, query url.Values) (Result, error) {
	res := Result{RequestID: uuid.NewString()}
	if strings.TrimSpace(key) == "" {
		return res, upstream.BadRequest("key is required")
	}

	params := cloneValues(query)
	if params.Get("consistency") == "" {
		params.Set("consistency", DefaultConsistency)
	}

	path := strings.ReplaceAll(c.cfg.ReadPath, "{key}", url.PathEscape(key))
	resp := c.http.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		URL:     c.cfg.BaseURL + path + "?" + params.Encode(),
		Headers: map[string]string{RequestIDHeader: res.RequestID},
		Timeout: c.cfg.Timeout,
	})
	if uerr := upstream.Classify(c.cfg.Name, c.cfg.BaseURL, resp); uerr != nil {
		if uerr.Kind == upstream.KindBackendError && uerr.Status == http.StatusNotFound {
			uerr.Message = "key not found"
		}
		return res, uerr
	}

	res.Data = asJSON(resp.Body)
	return res, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// asJSON returns body when it is valid JSON, otherwise body as a JSON string.
func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
