// Package server is the reference HTTP binding of the api/v1 RPC surface:
// a concrete, inspectable stand-in for the message-bus binding the core
// otherwise treats as an external collaborator. Gin router,
// gzip/request-id/zap middlewares, a websocket endpoint for the Notify*
// signals gin has no native pub/sub for, and a Prometheus /metrics
// handler.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests (and
// the websocket notify stream) to drain before forcing the listener closed.
const shutdownTimeout = 5 * time.Second

// Server is the gin-backed HTTP binding of v1.Service/v1.Notifier.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds a Server bound to addr, wiring every api/v1.Service operation
// and the Notify* signal stream. Construction never listens; call Serve to
// do that.
func New(addr string, svc v1.Service, notifier v1.Notifier, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	installRootGinMiddlewares(router)
	installCommonGinMiddlewares(router, logger)

	h := &handler{svc: svc, notifier: notifier, logger: logger}
	registerRoutes(router, h)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Serve listens and blocks until the listener is closed by Stop.
// http.ErrServerClosed is swallowed since it's the expected result of a
// clean Stop.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("serving api/v1 RPC surface", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down, bounded by shutdownTimeout.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("server shutdown did not complete cleanly", zap.Error(err))
	}
}

func registerRoutes(router *gin.Engine, h *handler) {
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1g := router.Group("/v1")
	{
		v1g.GET("/mode", h.getMode)
		v1g.PUT("/mode", h.setMode)
		v1g.GET("/supported", h.getSupported)
		v1g.GET("/vendor", h.getVendor)
		v1g.GET("/power-status", h.getPowerStatus)
		v1g.GET("/version", h.getVersion)
		v1g.GET("/pending", h.pendingMode)
		v1g.GET("/pending/action", h.pendingUserAction)
		v1g.GET("/config", h.getConfig)
		v1g.PUT("/config", h.setConfig)
		v1g.GET("/events", h.events)
	}
}
