// Package httpapi exposes the calculation service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fundingcalc/internal/config"
	"fundingcalc/internal/service"
	"fundingcalc/internal/storage"
)

// Calculator is the subset of service.Service the API depends on.
type Calculator interface {
	Calculate(ctx context.Context, req service.Request) (service.Response, error)
	RecentCalculations(ctx context.Context, limit int) ([]storage.CalculationRecord, error)
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	svc          Calculator
	logger       zerolog.Logger
	engine       *gin.Engine
	http         *http.Server
	historyLimit int
	shutdown     time.Duration
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, historyLimit int, svc Calculator, logger zerolog.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}

	s := &Server{
		svc:          svc,
		logger:       logger.With().Str("component", "httpapi").Logger(),
		historyLimit: historyLimit,
		shutdown:     cfg.ShutdownTimeout,
	}

	engine := gin.New()
	engine.Use(requestID(), s.recovery(), s.accessLog(), observe())

	api := engine.Group("/api")
	api.POST("/calculate", s.handleCalculate)
	api.GET("/history", s.handleHistory)
	api.GET("/symbols", s.handleSymbols)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.shutdown
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Dur("timeout", timeout).Msg("shutting down http server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
