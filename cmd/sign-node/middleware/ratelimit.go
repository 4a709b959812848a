package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/signer/common/ratelimit"
)

// Limiter checks per-client submission limits
type Limiter interface {
	CheckClientLimit(ctx context.Context, client string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// SubmitRateLimit allows limit submissions per client address per minute.
// X-User-ID is client controlled, so it does not select the budget.
func SubmitRateLimit(limiter Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := c.RealIP()

			result, err := limiter.CheckClientLimit(c.Request().Context(), client, limit, ratelimit.DefaultWindowSeconds)
			if err != nil {
				// On error, allow request (fail open)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "submit_rate_limit_exceeded",
					"message": "Too many sign tasks submitted. Please try again later.",
					"details": map[string]interface{}{
						"client":              client,
						"limit":               result.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
