// Package server exposes a MidDB instance over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	middb "github.com/PandiaJason/MidDB"
)

// Config holds the HTTP front-end configuration.
type Config struct {
	// Addr is the bind address. Default "0.0.0.0:8080".
	Addr string

	// WriteRateLimit caps write requests per second across all clients.
	// Zero disables limiting.
	WriteRateLimit float64

	// WriteRateBurst is the token bucket burst for the write limiter.
	WriteRateBurst int

	// Logger receives request logs. Nil discards them.
	Logger *slog.Logger

	// Registry is the Prometheus registry backing /metrics. Nil uses the
	// default registerer/gatherer.
	Registry *prometheus.Registry
}

// Server serves the MidDB HTTP API.
type Server struct {
	db     *middb.DB
	cfg    Config
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router and returns a Server ready to Run.
func New(db *middb.DB, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:8080"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger))

	s := &Server{
		db:     db,
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	writes := router.Group("/")
	if cfg.WriteRateLimit > 0 {
		burst := cfg.WriteRateBurst
		if burst <= 0 {
			burst = int(cfg.WriteRateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		writes.Use(RateLimit(cfg.WriteRateLimit, burst))
	}

	writes.POST("/insert", s.handleUpsert)
	writes.POST("/update", s.handleUpsert)
	writes.POST("/delete", s.handleDelete)

	router.GET("/queryField/:table", s.handleQueryField)
	router.POST("/queryEmbedding/:table", s.handleQueryEmbedding)
	router.POST("/queryHybrid/:table", s.handleQueryHybrid)

	router.GET("/healthz", s.handleHealthz)

	metricsHandler := promhttp.Handler()
	if cfg.Registry != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run binds the listen address and serves until ctx is cancelled, then
// shuts down gracefully. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
