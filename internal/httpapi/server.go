// Package httpapi implements the thin management-API adapter the outer
// dashboard consumes: list/get/enable/disable/forward-any/bundle/logs plus
// a live event stream and Prometheus exposition, all built directly on the
// operations of internal/supervisor and internal/router per spec.md §4.9.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toruai/steering-plugins/internal/router"
	"github.com/toruai/steering-plugins/internal/supervisor"
)

// Server wires the management API's gin engine to the supervisor and router.
type Server struct {
	engine *gin.Engine
	sup    *supervisor.Supervisor
	router *router.Router
	logger *slog.Logger
}

// New builds a Server. registry is the prometheus registerer backing /metrics;
// pass the same registerer used to build the supervisor's *metrics.Metrics.
func New(sup *supervisor.Supervisor, rt *router.Router, logger *slog.Logger, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recovery(logger), requestLogger(logger))

	s := &Server{engine: engine, sup: sup, router: rt, logger: logger}
	s.routes(registry)
	return s
}

// Handler returns the http.Handler to mount behind the outer HTTP layer.
func (s *Server) Handler() http.Handler { return s.engine }

// routes registers the management API under /api/plugins and the plugin
// forwarding namespace under /plugins. The two stay on separate top-level
// prefixes so the forward-any catch-all (a named param followed by a
// wildcard) never conflicts with the management endpoints' static routes
// on the same gin method tree.
func (s *Server) routes(registry *prometheus.Registry) {
	api := s.engine.Group("/api/plugins")
	api.GET("", s.listPlugins)
	api.GET("/:id", s.getPlugin)
	api.POST("/:id/enable", s.enablePlugin)
	api.POST("/:id/disable", s.disablePlugin)
	api.GET("/:id/logs", s.getLogs)
	api.GET("/:id/bundle.js", s.getBundle)

	s.engine.Any("/plugins/:id/*rest", s.forwardAny)

	s.engine.GET("/api/events", s.streamEvents)

	if registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
}
