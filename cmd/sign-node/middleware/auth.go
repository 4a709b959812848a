package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SubmitterKey is the echo context key holding the submitting identity
const SubmitterKey = "submitter"

// RequireToken rejects requests without "Authorization: Bearer <token>".
// The X-User-ID header, when present, is stored as the submitter.
func RequireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			given, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "valid bearer token required",
				})
			}

			if user := c.Request().Header.Get("X-User-ID"); user != "" {
				c.Set(SubmitterKey, user)
			}
			return next(c)
		}
	}
}

// Submitter returns the self-reported user when known, the client address
// otherwise. It attributes submissions; limits never key on it.
func Submitter(c echo.Context) string {
	if user, ok := c.Get(SubmitterKey).(string); ok && user != "" {
		return user
	}
	return c.RealIP()
}
