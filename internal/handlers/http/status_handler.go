package http

import (
	"net/http"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/core/services"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/repositories"
	"github.com/dench47/messenger-client-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestLogger logs every request on the status server with its latency.
func RequestLogger(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cl.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

// StatusHandler serves the local status/debug endpoints of the client daemon.
type StatusHandler struct {
	auth    ports.AuthService
	channel ports.SignalChannel
	calls   *services.CallCoordinator
	factory *repositories.RepositoryFactory
	metrics *monitoring.Collector
	started time.Time
}

func NewStatusHandler(
	auth ports.AuthService,
	channel ports.SignalChannel,
	calls *services.CallCoordinator,
	factory *repositories.RepositoryFactory,
	metrics *monitoring.Collector,
) *StatusHandler {
	return &StatusHandler{
		auth:    auth,
		channel: channel,
		calls:   calls,
		factory: factory,
		metrics: metrics,
		started: time.Now(),
	}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		h.metrics.Registry(),
		promhttp.HandlerOpts{},
	)))
}

func (h *StatusHandler) Health(c *gin.Context) {
	if err := h.factory.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) Status(c *gin.Context) {
	session := h.auth.Current()
	c.JSON(http.StatusOK, gin.H{
		"username":          session.Username,
		"channel_connected": h.channel.Connected(),
		"call_state":        h.calls.State(),
		"call_peer":         h.calls.Peer(),
		"call_status":       h.calls.Status(),
		"uptime":            time.Since(h.started).String(),
	})
}
