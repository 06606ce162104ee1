package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"styleaiapi/services"
)

const CodeInternal = "INTERNAL"

// httpErrorHandler writes every error as {"error": message, "code": code}.
// Domain errors carry their own status; anything unknown is a 500 and is
// reported to Sentry.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Int("status", status).Msg("request failed")
		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("failed to write error response")
	}
}

func errorBody(err error) (int, echo.Map) {
	if de, ok := services.AsDomainError(err); ok {
		body := echo.Map{"error": de.Error(), "code": de.Code()}
		var quotaErr *services.QuotaExceededError
		if errors.As(err, &quotaErr) {
			body["kind"] = quotaErr.Kind
			body["subscriptionTier"] = quotaErr.Tier
		}
		return de.Status(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Internal != nil && he.Code < http.StatusInternalServerError {
			msg = fmt.Sprintf("%s: %v", msg, he.Internal)
		}
		return he.Code, echo.Map{"error": msg, "code": statusCode(he.Code)}
	}

	return http.StatusInternalServerError, echo.Map{"error": "Server error", "code": CodeInternal}
}

// statusCode turns 429 into "TOO_MANY_REQUESTS".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return CodeInternal
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
