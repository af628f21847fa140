package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jpalmerr/pulseproxy/internal/gateway"
	"github.com/jpalmerr/pulseproxy/internal/prom"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "PulseProxy"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"

	// metricsAlias routes /api/metrics/... to the default Prometheus backend.
	metricsAlias = "metrics"
)

// Refresher runs a refresh round on demand. poller.Scheduler implements it.
type Refresher interface {
	RefreshNow(ctx context.Context) (store.Snapshot, error)
}

// Config is everything the server serves besides the snapshot cache.
type Config struct {
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// Title is the dashboard title. Defaults to "PulseProxy".
	Title string

	// Assets holds assets/index.html. Nil disables the dashboard route.
	Assets fs.FS

	// Targets is the configured target table for /api/targets.
	Targets []TargetEntry

	// Interval is the refresh period, reported by /api/targets.
	Interval time.Duration

	// Backends maps Prometheus target names to their query clients.
	Backends map[string]*prom.Client

	// DefaultBackend is the backend behind the "metrics" alias.
	DefaultBackend string

	// Gateway forwards writes and reads. Nil disables /api/write and /api/read.
	Gateway *gateway.Client

	// SampleData enables synthesized /api/stats when no live data exists.
	SampleData bool
}

// Server handles HTTP requests for the proxy's API and dashboard.
//
// Reads come from the snapshot cache. When the cache is still empty a
// handler asks the Refresher for a round instead of probing itself, so the
// refresh path stays the only writer.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store     store.Store
	refresher Refresher
	cfg       Config
	hub       *Hub
	logger    *zap.Logger

	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a [Server] reading from st.
//
// refresher may be nil, in which case an empty cache is reported as
// unavailable. The server is not started until [Server.Start] is called.
func NewServer(st store.Store, refresher Refresher, cfg Config, logger *zap.Logger) *Server {
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     st,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
	}
	s.hub = NewHub(s.currentFrames, logger)
	return s
}

// Handler builds the router. It is exposed for tests and for embedding the
// API in another server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// streaming routes must not be buffered by gzip
	r.Get("/api/sse", s.handleSSE)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(gziphandler.GzipHandler)

		r.Get("/api/health", s.handleHealth)
		r.Get("/api/health/{name}", s.handleHealthTarget)
		r.Get("/api/metrics", s.handleMetrics)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/targets", s.handleTargets)

		r.Get("/api/{backend}/query", s.handleQuery)
		r.Post("/api/{backend}/query", s.handleQuery)
		r.Get("/api/{backend}/query_range", s.handleQueryRange)
		r.Post("/api/{backend}/query_range", s.handleQueryRange)
		r.Get("/api/{backend}/metrics", s.handleMetricNames)

		r.Post("/api/write", s.handleWrite)
		r.Get("/api/read/{key}", s.handleRead)

		r.Get("/metrics", s.handleFederate)

		if s.cfg.Assets != nil {
			r.Get("/", s.handleDashboard)
		}
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout and disconnects push clients.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go s.hub.Run(ctx, s.store)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http_server_error", zap.Error(err))
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_server_shutdown_error", zap.Error(err))
		}
	}()

	s.logger.Info("http_server_listening", zap.String("addr", s.addr.String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// snapshot returns the cached snapshot, running a refresh round first when
// the cache is still empty. ok is false when no snapshot could be produced.
func (s *Server) snapshot(ctx context.Context) (store.Snapshot, bool) {
	if snap, ok := s.store.Latest(); ok {
		return snap, true
	}
	if s.refresher == nil {
		return store.Snapshot{}, false
	}

	snap, err := s.refresher.RefreshNow(ctx)
	if err != nil {
		s.logger.Warn("on_demand_refresh_failed", zap.Error(err))
	}
	return snap, !snap.Empty()
}
