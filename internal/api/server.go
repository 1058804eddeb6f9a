package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/cairoprove/internal/engine"
	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/notify"
	"github.com/seantiz/cairoprove/internal/stage"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second

	defaultMaxBodyBytes = 64 << 20
)

// Verifier checks a proof inside a scratch working directory.
type Verifier interface {
	Verify(ctx context.Context, dir *workdir.Dir, proof json.RawMessage) (bool, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr string
	// CORSOrigins defaults to every origin when empty.
	CORSOrigins  []string
	MaxBodyBytes int64
}

// Deps are the components the handlers operate on. Publisher may be nil.
type Deps struct {
	Store     store.Store
	Engine    *engine.Engine
	Workdirs  *workdir.Manager
	Verifier  Verifier
	Runners   *stage.Registry
	Publisher notify.Publisher
	Logger    *slog.Logger
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	store     store.Store
	engine    *engine.Engine
	workdirs  *workdir.Manager
	verifier  Verifier
	runners   *stage.Registry
	publisher notify.Publisher
	logger    *slog.Logger
	addr      string
	maxBody   int64
}

// NewServer creates and configures a new HTTP server.
func NewServer(opts Options, d Deps) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if d.Publisher == nil {
		d.Publisher = notify.Nop{}
	}

	srv := &Server{
		router:    chi.NewRouter(),
		store:     d.Store,
		engine:    d.Engine,
		workdirs:  d.Workdirs,
		verifier:  d.Verifier,
		runners:   d.Runners,
		publisher: d.Publisher,
		logger:    d.Logger,
		addr:      opts.Addr,
		maxBody:   opts.MaxBodyBytes,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Post("/v1/prove/cairo", s.handleProve(model.KindCairo))
	s.router.Post("/v1/prove/cairo0", s.handleProve(model.KindCairo0))
	s.router.Post("/v1/verify", s.handleVerify)

	s.router.Get("/v1/runners", s.handleListRunners)
	s.router.Get("/v1/layouts", s.handleListLayouts)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/proof", s.handleGetProof)
		r.Get("/{id}/logs", s.handleStreamLogs)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
