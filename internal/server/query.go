package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/jpalmerr/pulseproxy/internal/prom"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
	"go.uber.org/zap"
)

// maxBodySize caps request bodies read by the query and gateway routes.
const maxBodySize = 1 << 20

// queryInput holds the query route parameters.
type queryInput struct {
	Query string
	Time  string
	Start string
	End   string
	Step  string
}

// backend resolves {backend} to a query client. "metrics" names the default
// backend unless a target is literally called metrics.
func (s *Server) backend(r *http.Request) (*prom.Client, bool) {
	name := chi.URLParam(r, "backend")
	if c, ok := s.cfg.Backends[name]; ok {
		return c, true
	}
	if name == metricsAlias && s.cfg.DefaultBackend != "" {
		c, ok := s.cfg.Backends[s.cfg.DefaultBackend]
		return c, ok
	}
	return nil, false
}

func (s *Server) unknownBackend(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error: "unknown metrics backend " + chi.URLParam(r, "backend"),
	})
}

// readQueryInput reads the query parameters from the URL, or from a JSON
// body for POST requests.
func readQueryInput(r *http.Request) (queryInput, error) {
	q := r.URL.Query()
	in := queryInput{
		Query: q.Get("query"),
		Time:  q.Get("time"),
		Start: q.Get("start"),
		End:   q.Get("end"),
		Step:  q.Get("step"),
	}
	if r.Method != http.MethodPost {
		return in, nil
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return in, upstream.BadRequest("invalid form body: %v", err)
		}
		return queryInput{
			Query: r.PostForm.Get("query"),
			Time:  r.PostForm.Get("time"),
			Start: r.PostForm.Get("start"),
			End:   r.PostForm.Get("end"),
			Step:  r.PostForm.Get("step"),
		}, nil
	}

	var body struct {
		Query string     `json:"query"`
		Time  flexString `json:"time"`
		Start flexString `json:"start"`
		End   flexString `json:"end"`
		Step  flexString `json:"step"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		return in, upstream.BadRequest("request body must be a JSON object with a query field")
	}
	return queryInput{
		Query: body.Query,
		Time:  string(body.Time),
		Start: string(body.Start),
		End:   string(body.End),
		Step:  string(body.Step),
	}, nil
}

// flexString accepts a JSON string or number. Dashboards send unix
// timestamps both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, func(ctx context.Context, c *prom.Client, in queryInput) (prom.Result, error) {
		return c.Query(ctx, in.Query, in.Time)
	})
}

func (s *Server) handleQueryRange(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, func(ctx context.Context, c *prom.Client, in queryInput) (prom.Result, error) {
		return c.QueryRange(ctx, prom.RangeParams{
			Query: in.Query,
			Start: in.Start,
			End:   in.End,
			Step:  in.Step,
		})
	})
}

// handleMetricNames lists the metric names known to the backend.
func (s *Server) handleMetricNames(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, func(ctx context.Context, c *prom.Client, _ queryInput) (prom.Result, error) {
		return c.LabelValues(ctx, "__name__")
	})
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, call func(context.Context, *prom.Client, queryInput) (prom.Result, error)) {
	c, ok := s.backend(r)
	if !ok {
		s.unknownBackend(w, r)
		return
	}

	in, err := readQueryInput(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := call(r.Context(), c, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Debug("query_forwarded",
		zap.String("backend", c.Name()),
		zap.String("path", r.URL.Path),
		zap.Int("bytes", len(res.Body)),
	)
	s.writePassthrough(w, res.ContentType, res.Body)
}
