// Package api serves the read-only status API and the event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Yoogi-7/BitgetBot/internal/engine"
	"github.com/Yoogi-7/BitgetBot/internal/events"
)

type Config struct {
	Addr string `yaml:"addr"`
	// JWTSecret enables bearer auth on /api when set.
	JWTSecret      string        `yaml:"-"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gt=0"`
	Burst          int           `yaml:"burst" validate:"gte=1"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RatePerSecond:  20,
		Burst:          50,
		RequestTimeout: 30 * time.Second,
	}
}

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router *gin.Engine

	cfg      Config
	svc      engine.Service
	bus      *events.Bus
	limiters *ipLimiters
	log      *zap.Logger
}

func NewServer(cfg Config, svc engine.Service, bus *events.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()

	s := &Server{
		Router:   r,
		cfg:      cfg,
		svc:      svc,
		bus:      bus,
		limiters: newIPLimiters(cfg.RatePerSecond, cfg.Burst),
		log:      log,
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(s.RateLimitMiddleware())
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	if s.cfg.JWTSecret != "" {
		api.Use(AuthMiddleware(s.cfg.JWTSecret))
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/balance", s.getBalance)
		api.GET("/risk", s.getRiskReport)
		api.GET("/kpi", s.getKPISummary)
		api.GET("/filters", s.getFilterSummary)
		api.GET("/metrics", s.getMetrics)
		api.GET("/cycle", s.getLastCycle)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.limiters.stop()
	return <-errCh
}
