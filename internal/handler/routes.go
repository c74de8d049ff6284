package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
)

// Paths served by the gateway itself rather than forwarded.
const (
	PathHealth = "/health"
	PathStatus = "/gateway/status"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// not claimed here goes to the gateway dispatcher, which answers unknown
// routes with 404.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, gw *GatewayHandler, health *HealthHandler) {
	e.GET(PathHealth, health.Health)
	e.GET(PathStatus, health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", gw.Dispatch)
}
