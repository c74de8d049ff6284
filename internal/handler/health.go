package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/upstream"
)

// ServiceName identifies the gateway in health and status replies.
const ServiceName = "api-gateway"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	registry *upstream.Registry
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(registry *upstream.Registry, v Version) *HealthHandler {
	return &HealthHandler{registry: registry, version: v}
}

// Health reports liveness. It never contacts an upstream.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

type statusResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Upstreams map[string]string `json:"upstreams"`
}

// Status returns gateway build and upstream information.
func (h *HealthHandler) Status(c echo.Context) error {
	upstreams := make(map[string]string)
	for _, name := range h.registry.Names() {
		if u, err := h.registry.Resolve(name); err == nil {
			upstreams[name] = u.String()
		}
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   string(h.version),
		Upstreams: upstreams,
	})
}
