package controllers

import (
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"styleaiapi/services"
	"styleaiapi/tasks"
)

// stripe caps event payloads well below this
const maxWebhookBytes = 1 << 16

type WebhooksController struct {
	Billing *services.BillingService
}

func (wc *WebhooksController) SetupRoutes(g *echo.Group) {
	g.POST("/stripe-webhook", wc.stripeWebhook)
}

func (wc *WebhooksController) stripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	logger := zerolog.Ctx(ctx)

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to read body")
	}
	event, err := wc.Billing.Provider.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		logger.Warn().Err(err).Str("ip", c.RealIP()).Msg("webhook rejected")
		return echo.NewHTTPError(http.StatusBadRequest, "Webhook Error: "+err.Error())
	}

	payment, err := wc.Billing.HandleEvent(ctx, event)
	if err != nil {
		return err
	}
	if payment != nil {
		client, _ := c.Get("__asynqclient").(*asynq.Client)
		if err := tasks.EnqueueBillingNotify(ctx, client, payment); err != nil {
			// the tier is already applied, the notification is best effort
			logger.Error().Err(err).Msg("failed to enqueue billing notification")
			sentry.CaptureException(err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
