package controlplane

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/environment"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l.WithComponent(logger.ComponentControlPlane) }
}

// WithTelemetry records operation spans and durations.
func WithTelemetry(m *observability.Metrics) Option {
	return func(s *Server) { s.telemetry = m }
}

// WithMetrics records request counters on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// OnSuiteChanged registers a hook called after an operation changed a
// suite's URLs. It runs synchronously before the response is written.
func OnSuiteChanged(fn func(environment.Suite) error) Option {
	return func(s *Server) { s.onChange = fn }
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg        Config
	suites     Suites
	engine     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger
	telemetry  *observability.Metrics
	metrics    *Metrics
	gatherer   prometheus.Gatherer
	onChange   func(environment.Suite) error

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New creates a server for suites. Routes are registered immediately; call
// Start to bind.
func New(cfg Config, suites Suites, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		suites:   suites,
		engine:   gin.New(),
		log:      logger.Get(logger.ComponentControlPlane),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.HandleMethodNotAllowed = true
	s.engine.RedirectTrailingSlash = false
	s.engine.RedirectFixedPath = false
	s.engine.Use(recovery(s.log), requestID(), requestLogger(s.log, s.metrics))
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() {
	s.engine.POST("/snapshot/:suiteId/:name", s.handleSnapshot)
	s.engine.POST("/restore/:suiteId/:name", s.handleRestore)
	s.engine.POST("/clear-cache/:suiteId", s.handleClearCache)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/suites", s.handleSuites)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.NoRoute(s.handleNoRoute)
	s.engine.NoMethod(s.handleNoMethod)
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listener and begins serving. It returns once the listener
// is bound; URL reports the actual address afterwards.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("control plane already started on %s", s.listener.Addr())
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("control plane failed to bind %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Control plane server error", logger.ErrorFields("serve", err))
		}
	}(s.done)

	s.log.Info("Control plane listening", logger.Fields(logger.FieldURL, s.urlLocked()))
	return nil
}

// Stop gracefully shuts down the server within the configured deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Control plane shutdown error", logger.ErrorFields("shutdown", err))
		_ = s.httpServer.Close()
		return fmt.Errorf("control plane shutdown error: %w", err)
	}
	<-done
	s.log.Info("Control plane stopped")
	return nil
}

// URL returns the base URL of the bound server, or "" before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Server) urlLocked() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Name implements component.Component.
func (s *Server) Name() string { return "controlplane" }

// Health implements component.Component.
func (s *Server) Health(ctx context.Context) component.Health {
	h := component.Health{Name: s.Name(), Status: component.StatusHealthy}
	if s.URL() == "" {
		h.Status = component.StatusUnhealthy
		h.Message = "not listening"
	}
	return h
}
