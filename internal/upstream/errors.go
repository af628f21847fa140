package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Kind tags the failure modes an upstream call can end in.
type Kind string

const (
	// KindUnreachable covers connection refused, DNS failures and resets.
	KindUnreachable Kind = "unreachable"

	// KindTimeout means the upstream did not answer within the call's budget.
	KindTimeout Kind = "timeout"

	// KindBackendError means the upstream answered and reported an error itself.
	KindBackendError Kind = "backend_error"

	// KindBadRequest means the caller's input was rejected before any upstream call.
	KindBadRequest Kind = "bad_request"
)

// Error is the single error type every proxy route maps to HTTP.
type Error struct {
	Kind Kind

	// Backend is the target name the call was made to. Empty for KindBadRequest.
	Backend string

	// Status is the upstream's HTTP status for KindBackendError.
	Status int

	// Message is the human-readable error. For KindBackendError it is the
	// backend's own error text, passed through unchanged.
	Message string

	// Hint is an operator-facing suggestion for KindUnreachable and KindTimeout.
	Hint string

	// Details holds the upstream body when it was valid JSON.
	Details json.RawMessage

	Err error
}

func (e *Error) Error() string {
	if e.Backend == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error to the status the proxy answers with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnreachable, KindTimeout:
		return http.StatusServiceUnavailable
	case KindBackendError:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// BadRequest builds a KindBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Classify inspects a [Response] from backend (reachable at baseURL) and
// returns the matching *Error, or nil when the call succeeded.
//
// A 2xx answer whose JSON body carries "status":"error" (the Prometheus API
// convention) is a backend error too.
func Classify(backend, baseURL string, resp Response) *Error {
	if resp.Error != nil {
		if errors.Is(resp.Error, ErrBodyTooLarge) {
			return &Error{
				Kind:    KindBackendError,
				Backend: backend,
				Status:  http.StatusBadGateway,
				Message: fmt.Sprintf("%s response too large: %v", backend, ErrBodyTooLarge),
				Hint:    "narrow the query or its time range",
				Err:     resp.Error,
			}
		}
		if isTimeout(resp.Error) {
			return &Error{
				Kind:    KindTimeout,
				Backend: backend,
				Message: fmt.Sprintf("%s did not respond within %s", backend, resp.Latency.Round(time.Millisecond)),
				Hint:    fmt.Sprintf("check that %s is healthy and reachable at %s", backend, baseURL),
				Err:     resp.Error,
			}
		}
		return &Error{
			Kind:    KindUnreachable,
			Backend: backend,
			Message: fmt.Sprintf("%s is not accessible", backend),
			Hint:    fmt.Sprintf("cannot connect to %s; ensure it is running at %s", backend, baseURL),
			Err:     resp.Error,
		}
	}

	body := decodeErrorBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := body.message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return &Error{
			Kind:    KindBackendError,
			Backend: backend,
			Status:  resp.StatusCode,
			Message: msg,
			Details: body.raw,
		}
	}

	if body.Status == "error" {
		msg := body.message()
		if msg == "" {
			msg = fmt.Sprintf("%s query error", backend)
		}
		return &Error{
			Kind:    KindBackendError,
			Backend: backend,
			Status:  resp.StatusCode,
			Message: msg,
			Details: body.raw,
		}
	}

	return nil
}

// errorBody picks out the fields upstreams commonly use to report errors:
// Prometheus uses status/errorType/error, Spring uses error/message and a
// numeric status, so fields are read loosely.
type errorBody struct {
	Status    string
	ErrorType string
	Error     string
	Msg       string

	raw json.RawMessage
}

func (b errorBody) message() string {
	if b.Error != "" {
		return b.Error
	}
	return b.Msg
}

func decodeErrorBody(data []byte) errorBody {
	var b errorBody
	if len(data) == 0 || !json.Valid(data) {
		return b
	}
	b.raw = json.RawMessage(data)

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		// valid JSON but not an object; keep it as details only
		return b
	}
	b.Status = stringField(fields, "status")
	b.ErrorType = stringField(fields, "errorType")
	b.Error = stringField(fields, "error")
	b.Msg = stringField(fields, "message")
	return b
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
