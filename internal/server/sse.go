package server

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
// This prevents goroutine leaks when clients are slow or disconnected.
// Must be <= shutdown timeout to ensure clean shutdown.
const sseWriteTimeout = 5 * time.Second

// handleSSE streams health and stats frames via Server-Sent Events, one pair
// per refresh round.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent the
// handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(frames [][]byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse_write_deadline_unsupported", zap.Error(err))
				deadlinesSupported = false
			}
		}
		for _, data := range frames {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Schema-Version", SchemaVersion)

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// send the cached frames first so the client has data right away
	if frames := s.currentFrames(); len(frames) > 0 {
		if err := writeAndFlush(frames); err != nil {
			return
		}
	} else if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := writeAndFlush(renderFrames(snap)); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
