package pulseproxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
)

// JQExtractor returns a [StatusExtractor] that evaluates a jq expression
// against the decoded JSON payload.
//
// The first value the expression produces is mapped to a [Status] using
// common health check conventions:
//   - [StatusUp]: "up", "ok", "healthy", "pass", "passed", "active", "running",
//     "green", "operational" and true (case-insensitive)
//   - [StatusDown]: any other string, false, or a number other than 1
//   - [StatusUnknown]: the body is not JSON, or the expression yields null or
//     nothing
//
// Returns an error if the expression does not parse or compile.
//
// Example:
//
//	// For response: {"components": {"db": {"status": "UP"}}}
//	extractor, err := pulseproxy.JQExtractor(".components.db.status")
func JQExtractor(expr string) (StatusExtractor, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid status query %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid status query %q: %w", expr, err)
	}

	return func(body []byte) (Status, string, error) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return StatusUnknown, "", nil
		}

		iter := code.Run(data)
		v, ok := iter.Next()
		if !ok {
			return StatusUnknown, "", nil
		}
		if err, isErr := v.(error); isErr {
			return StatusUnknown, "", err
		}

		reported := valueString(v)
		if reported == "" {
			return StatusUnknown, "", nil
		}
		return mapStringToStatus(reported), reported, nil
	}, nil
}

// MustJQExtractor is like [JQExtractor] but panics if the expression is
// invalid.
//
// Use this for constant expressions where you want to fail fast.
//
//	var dbStatus = pulseproxy.MustJQExtractor(".components.db.status")
func MustJQExtractor(expr string) StatusExtractor {
	extractor, err := JQExtractor(expr)
	if err != nil {
		panic("pulseproxy: " + err.Error())
	}
	return extractor
}

// valueString renders a jq result for status mapping. Empty means no status.
func valueString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		if v == 1 {
			return "true"
		}
		return strconv.Itoa(v)
	case float64:
		if v == 1 {
			return "true"
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// mapStringToStatus maps common status strings to Status values.
func mapStringToStatus(s string) Status {
	switch strings.ToLower(s) {
	case "up", "ok", "healthy", "pass", "passed", "active", "running", "true", "green", "operational":
		return StatusUp
	default:
		return StatusDown
	}
}

// FirstMatch returns a [StatusExtractor] that tries multiple extractors in
// order, returning the first result that is not [StatusUnknown].
//
// An extractor error stops the chain and is returned. If every extractor
// returns [StatusUnknown], so does FirstMatch.
//
// Example:
//
//	// Prefer the database component, fall back to the overall status
//	extractor := pulseproxy.FirstMatch(
//	    pulseproxy.MustJQExtractor(".components.db.status"),
//	    pulseproxy.DefaultHealthExtractor,
//	)
func FirstMatch(extractors ...StatusExtractor) StatusExtractor {
	return func(body []byte) (Status, string, error) {
		for _, extractor := range extractors {
			status, reported, err := extractor(body)
			if err != nil {
				return StatusUnknown, "", err
			}
			if status != StatusUnknown {
				return status, reported, nil
			}
		}
		return StatusUnknown, "", nil
	}
}

// ContainsExtractor returns a [StatusExtractor] that checks if the response
// body contains the specified text (case-insensitive).
//
// Status mapping:
//   - [StatusUp]: body contains the text
//   - [StatusDown]: body does not contain the text
//
// This suits health endpoints that return plain text such as "OK".
func ContainsExtractor(text string) StatusExtractor {
	lower := strings.ToLower(text)
	return func(body []byte) (Status, string, error) {
		if strings.Contains(strings.ToLower(string(body)), lower) {
			return StatusUp, text, nil
		}
		return StatusDown, snippet(body), nil
	}
}

// snippet shortens a body for use as a reported status.
func snippet(body []byte) string {
	const maxLen = 64
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

// DefaultHealthExtractor reads the top-level "status" field, the shape used
// by Spring Boot actuator and most health endpoints. It is applied to
// targets of [KindHealth] that set no extractor of their own. A body that
// is not an object carries no status, so the HTTP verdict stands.
var DefaultHealthExtractor = MustJQExtractor(".status?")
