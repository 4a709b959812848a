package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether backing services are reachable
type HealthChecker func(ctx context.Context) error

// SystemHandler serves health and readiness
type SystemHandler struct {
	service string
	check   HealthChecker
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(service string, check HealthChecker) *SystemHandler {
	return &SystemHandler{service: service, check: check}
}

// Health reports service status
// GET /health
func (h *SystemHandler) Health(c echo.Context) error {
	if h.check != nil {
		if err := h.check(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"service": h.service,
				"error":   err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": h.service,
	})
}
