package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/metrics"
)

// RequestLogger writes one structured line per request and records the
// request metrics under the route template, not the raw path.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "http").Logger()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			metrics.RequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			metrics.RequestDuration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())

			ev := log.Info()
			if status >= 500 {
				ev = log.Error()
			}
			ev = ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", route).
				Int("status", status).
				Dur("latency", elapsed).
				Str("ip", c.RealIP())
			if id, ok := ActorID(c); ok {
				ev = ev.Uint64("user_id", id)
			}
			ev.Msg("request")
			return nil
		}
	}
}
