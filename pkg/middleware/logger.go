package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

// Logger writes one line per request. Requests served from the fallback
// store are logged at warn level so outages show up without metrics.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			ctx := req.Context()
			degraded := res.Header().Get(HeaderDegraded) == "true"

			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"actor":         context.GetActor(ctx),
				"method":        context.GetMethod(ctx),
				"path":          context.GetRoute(ctx),
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     context.GetRemoteIP(ctx),
				"user_agent":    req.UserAgent(),
				"degraded":      degraded,
				"response_time": time.Since(start),
				"response_size": res.Size,
			})
			if degraded {
				entry.Warn("Request served from fallback store")
				return nil
			}
			entry.Info("Request")
			return nil
		}
	}
}
