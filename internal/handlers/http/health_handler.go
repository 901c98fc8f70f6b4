package http

import (
	"context"
	"net/http"
	"time"

	"talkmix/internal/infrastructure/monitoring"
	"talkmix/pkg/cache"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	health   *monitoring.HealthChecker
	gatherer prometheus.Gatherer
	ready    *cache.Cache[string, monitoring.HealthStatus]
}

// NewHealthHandler serves health checks from health and, when gatherer is set,
// Prometheus metrics. Readiness results are reused for readyTTL.
func NewHealthHandler(health *monitoring.HealthChecker, gatherer prometheus.Gatherer, readyTTL time.Duration) *HealthHandler {
	return &HealthHandler{
		health:   health,
		gatherer: gatherer,
		ready:    cache.New[string, monitoring.HealthStatus](readyTTL),
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter, metricsPath string) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is the liveness check.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status, _ := h.ready.GetOrLoad(c.Request.Context(), "ready", func(ctx context.Context) (monitoring.HealthStatus, error) {
		return h.health.GetReadinessStatus(ctx), nil
	})
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
