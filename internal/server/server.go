// Package server is the HTTP boundary. Handlers parse explicit request
// structs, call the schedule API, and translate its typed errors into
// status codes; no scheduling logic lives here.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"actionwatch/internal/service"
	logx "actionwatch/pkg/logx"
)

// Config controls the HTTP server.
type Config struct {
	Addr string

	// Debug switches gin into debug mode; release otherwise.
	Debug bool

	// ShutdownTimeout bounds graceful drain on Stop. 0 means 10s.
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg Config
	log logx.Logger
	api *service.Service

	srv *http.Server
}

func New(cfg Config, api *service.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	s := &Server{cfg: cfg, log: log, api: api}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) router() *gin.Engine {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/actions", s.listActions)
		v1.POST("/actions", s.createAction)
		v1.GET("/actions/:id", s.getAction)
		v1.PUT("/actions/:id", s.updateAction)
		v1.DELETE("/actions/:id", s.deleteAction)

		v1.GET("/actions/:id/instances", s.listInstances)
		v1.GET("/actions/:id/instances/current", s.currentInstance)
		v1.GET("/actions/:id/instances/next", s.nextInstance)
		v1.GET("/actions/:id/instances/:instance_id", s.getInstance)
		v1.PUT("/actions/:id/instances/:instance_id", s.updateInstance)
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)))
	}
}

// Start begins serving in the background. Listen errors other than
// graceful close are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
