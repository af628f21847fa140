package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Schema-Version", SchemaVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode_response_failed", zap.Error(err))
	}
}

// writeError maps err to a status via upstream.Error and writes an
// ErrorResponse. Errors of any other type are 500s.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var uerr *upstream.Error
	if !errors.As(err, &uerr) {
		s.logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	status := uerr.HTTPStatus()
	if status >= 500 {
		s.logger.Warn("upstream_error",
			zap.String("path", r.URL.Path),
			zap.String("backend", uerr.Backend),
			zap.String("kind", string(uerr.Kind)),
			zap.Int("status", status),
			zap.String("error", uerr.Message),
		)
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:   uerr.Message,
		Kind:    string(uerr.Kind),
		Backend: uerr.Backend,
		Hint:    uerr.Hint,
		Details: uerr.Details,
	})
}

// writePassthrough writes a backend body unchanged.
func (s *Server) writePassthrough(w http.ResponseWriter, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Schema-Version", SchemaVersion)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write_passthrough_failed", zap.Error(err))
	}
}
