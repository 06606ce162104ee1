package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"styleaiapi/metrics"
)

const HeaderRequestID = "X-Request-ID"

// RequestLogger attaches a request scoped zerolog logger to the request
// context and counts every request.
func RequestLogger(reg *metrics.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := req.Header.Get(HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, rid)

			logger := log.With().
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				// resolve the status before logging it
				c.Error(err)
			}

			status := c.Response().Status
			labels := map[string]string{
				"method": req.Method,
				"path":   c.Path(),
				"status": statusClass(status),
			}
			reg.Inc(c.Request().Context(), metrics.HTTPRequests, labels, 1)

			duration := time.Since(start)
			if status >= 500 {
				reg.Inc(c.Request().Context(), metrics.HTTPErrors, labels, 1)
				logger.Error().Err(err).Int("status", status).Dur("duration", duration).Msg("http request failed")
			} else {
				logger.Info().Int("status", status).Dur("duration", duration).Msg("http request served")
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "0"
	}
}
