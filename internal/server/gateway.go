package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jpalmerr/pulseproxy/internal/gateway"
	"github.com/jpalmerr/pulseproxy/internal/upstream"
	"go.uber.org/zap"
)

// handleWrite forwards a key/value write to the gateway, once.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway == nil {
		s.gatewayDisabled(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeGateway(w, gateway.Result{}, upstream.BadRequest("read request body: %v", err))
		return
	}
	req, err := gateway.ParseWriteRequest(body)
	if err != nil {
		s.writeGateway(w, gateway.Result{}, err)
		return
	}

	res, err := s.cfg.Gateway.Write(r.Context(), req, r.URL.Query())
	if err == nil {
		s.logger.Info("gateway_write",
			zap.String("key", req.Key),
			zap.String("request_id", res.RequestID),
		)
	}
	s.writeGateway(w, res, err)
}

// handleRead forwards a key lookup to the gateway.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway == nil {
		s.gatewayDisabled(w)
		return
	}

	key := chi.URLParam(r, "key")
	// chi routes on RawPath when the request has one, leaving the key escaped;
	// otherwise it routes on Path, which is already decoded
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}

	res, err := s.cfg.Gateway.Read(r.Context(), key, r.URL.Query())
	s.writeGateway(w, res, err)
}

func (s *Server) gatewayDisabled(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusNotFound, GatewayResponse{
		Error:     "no gateway configured",
		Timestamp: time.Now().UTC(),
	})
}

// writeGateway writes the gateway envelope for a result or error.
func (s *Server) writeGateway(w http.ResponseWriter, res gateway.Result, err error) {
	resp := GatewayResponse{
		RequestID: res.RequestID,
		Timestamp: time.Now().UTC(),
	}
	if err == nil {
		resp.Success = true
		resp.Data = res.Data
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	status := http.StatusInternalServerError
	resp.Error = err.Error()
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		status = uerr.HTTPStatus()
		resp.Error = uerr.Message
		resp.Details = uerr.Details
	}
	if status >= 500 {
		s.logger.Warn("gateway_call_failed",
			zap.Int("status", status),
			zap.String("request_id", res.RequestID),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, resp)
}
