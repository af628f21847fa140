package pulseproxy

import "time"

// Status represents the health state of a target.
//
// Status is a string type holding one of [StatusUp], [StatusDown] or
// [StatusUnknown]. The values match what the /api/health route reports.
type Status string

const (
	// StatusUp indicates the target answered 2xx and reported itself healthy.
	StatusUp Status = "UP"

	// StatusDown indicates the target failed, timed out, answered non-2xx or
	// reported an unhealthy status.
	StatusDown Status = "DOWN"

	// StatusUnknown is returned by an extractor when the payload carries no
	// status. The HTTP verdict then stands.
	StatusUnknown Status = "UNKNOWN"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// StatusExtractor reads the health status out of a 2xx response body.
//
// It returns the determined [Status] and the value exactly as the target
// reported it (for example "OUT_OF_SERVICE"), which ends up in the error
// message when the status is down. Returning [StatusUnknown] leaves the
// HTTP verdict in place.
//
// Built-in extractors: [JQExtractor], [ContainsExtractor], [FirstMatch] and
// [DefaultHealthExtractor].
//
// # Panic Safety
//
// StatusExtractor functions are called within a panic recovery boundary.
// If an extractor panics, the target is reported [StatusDown] with an error
// containing a correlation ID, and the full stack trace is logged. A
// misbehaving extractor cannot take down a refresh round.
type StatusExtractor func(body []byte) (status Status, reported string, err error)

// Health is the outcome of one target check, as passed to callbacks
// registered with [WithHealthCallback] and returned by [Proxy.Check].
type Health struct {
	// Target is the target's name.
	Target string

	// Kind is the target's kind.
	Kind Kind

	// URL is the health URL that was probed.
	URL string

	// Status is StatusUp or StatusDown.
	Status Status

	// Error is the human-readable failure. Empty when Status is StatusUp.
	Error string

	// StatusCode is the HTTP status code. Zero if no response was received.
	StatusCode int

	// Latency is the time taken by the health probe.
	Latency time.Duration

	// CheckedAt is when the probe completed.
	CheckedAt time.Time

	// Metrics holds per-family sums from the target's metrics scrape, if any.
	Metrics map[string]float64

	// MetricsError is set when the metrics scrape failed.
	MetricsError string
}
