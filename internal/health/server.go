// Package health serves the status endpoint and the prometheus scrape
// endpoint.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
)

// Engine is the view of the engine the status endpoint reports.
type Engine interface {
	RunID() string
	Running() bool
}

// Status is the body of GET /api/v1/status.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

// Router builds the gin engine. reg may be nil, then /metrics is not served.
func Router(engine Engine, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/status", func(c *gin.Context) {
		if !engine.Running() {
			c.JSON(http.StatusServiceUnavailable, Status{Status: "DOWN", Message: "Isotope Engine is not running", RunID: engine.RunID()})
			return
		}
		c.JSON(http.StatusOK, Status{Status: "UP", Message: "Isotope Engine is running", RunID: engine.RunID()})
	})

	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	return r
}

type Server struct {
	server *http.Server
}

// NewServer returns nil when addr is empty, a nil Server is a no-op.
func NewServer(addr string, engine Engine, reg *prometheus.Registry) *Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      Router(engine, reg),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *Server) Start() {
	if s == nil {
		return
	}
	go func() {
		logs.Infof("health server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("health server stopped, err: %+v", err)
		}
	}()
}

func (s *Server) Stop() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logs.Errorf("shutdown health server, err: %+v", err)
	}
}
