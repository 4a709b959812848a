package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/signer/cmd/sign-node/handlers"
)

// TaskRouteOpts carries the optional guards of the task API
type TaskRouteOpts struct {
	// Auth applies to every task route
	Auth echo.MiddlewareFunc
	// SubmitLimit applies to task submission only
	SubmitLimit echo.MiddlewareFunc
}

// RegisterTaskRoutes registers sign task routes
func RegisterTaskRoutes(e *echo.Echo, h *handlers.TaskHandler, opts TaskRouteOpts) {
	var groupMW, submitMW []echo.MiddlewareFunc
	if opts.Auth != nil {
		groupMW = append(groupMW, opts.Auth)
	}
	if opts.SubmitLimit != nil {
		submitMW = append(submitMW, opts.SubmitLimit)
	}

	tasks := e.Group("/api/v1/sign-tasks", groupMW...)
	{
		tasks.POST("", h.SubmitTask, submitMW...) // POST /api/v1/sign-tasks
		tasks.GET("/:id", h.GetTask)              // GET /api/v1/sign-tasks/17
	}
}

// RegisterSystemRoutes registers health and, when metrics is set, /metrics
func RegisterSystemRoutes(e *echo.Echo, h *handlers.SystemHandler, metrics http.Handler) {
	e.GET("/health", h.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}
