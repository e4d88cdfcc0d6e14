package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/ratelimit"
)

// GlobalRateLimit caps the total request rate across all clients.
// Redis being down must not take the API with it, so failed checks
// let the request through. Health probes stay exempt alongside the
// websocket feed.
func GlobalRateLimit(limiter *ratelimit.Limiter, limit int, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil || limit <= 0 || exempt(c.Request().URL.Path) {
				return next(c)
			}

			result, err := limiter.CheckGlobal(c.Request().Context(), int64(limit))
			if err != nil {
				log.Warn("rate limit check failed, allowing request", "error", err)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return apperror.New(apperror.KindRateLimited, "service request limit reached").
					WithDetails(map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      ratelimit.WindowSeconds,
						"retry_after_seconds": result.RetryAfterSeconds,
					})
			}

			return next(c)
		}
	}
}
