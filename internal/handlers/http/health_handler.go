package http

import (
	"net/http"
	"time"

	"meshvoice/internal/infrastructure/monitoring"
	"meshvoice/internal/infrastructure/signal"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsHandler serves liveness, readiness, metrics and the status feed.
type OpsHandler struct {
	health   *monitoring.HealthChecker
	feed     *signal.StatusFeed
	gatherer prometheus.Gatherer
	started  time.Time
}

// NewOpsHandler creates the handler. A nil gatherer disables /metrics.
func NewOpsHandler(health *monitoring.HealthChecker, feed *signal.StatusFeed, gatherer prometheus.Gatherer) *OpsHandler {
	return &OpsHandler{
		health:   health,
		feed:     feed,
		gatherer: gatherer,
		started:  time.Now(),
	}
}

func (h *OpsHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/api/v1/status/ws", gin.WrapF(h.feed.HandleWebSocket))
}

func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *OpsHandler) Ready(c *gin.Context) {
	status := h.health.Status(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
