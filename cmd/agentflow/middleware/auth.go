// Package middleware holds the HTTP middleware specific to the
// agentflow API surface.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/apperror"
)

// Paths reachable without a key: liveness probes and the WebSocket
// feed (browser clients cannot set custom headers on the upgrade).
func exempt(path string) bool {
	if path == "/" || path == "/health" {
		return true
	}
	return strings.HasPrefix(path, "/ws")
}

// APIKey enforces the X-API-Key header on every non-exempt route. A
// missing header is 401, a wrong one 403. An empty configured key
// disables the check, which is only sensible in development.
func APIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" || exempt(c.Request().URL.Path) {
				return next(c)
			}

			provided := c.Request().Header.Get("X-API-Key")
			if provided == "" {
				return apperror.New(apperror.KindAuthentication, "Missing X-API-Key header")
			}
			if provided != key {
				return apperror.New(apperror.KindAuthentication, "Invalid API key").
					WithStatus(http.StatusForbidden)
			}

			return next(c)
		}
	}
}
