package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"styleaiapi/models"
	"styleaiapi/services"
)

type BillingController struct {
	Billing *services.BillingService
	Quota   *services.QuotaGate
}

func (bc *BillingController) BillingRoutes(g *echo.Group, auth echo.MiddlewareFunc) {
	g.GET("/subscription-status", bc.subscriptionStatus, auth)
	if bc.Billing == nil {
		return
	}
	g.POST("/create-payment-intent", bc.createPaymentIntent, auth)
	g.POST("/cancel-subscription", bc.cancelSubscription, auth)
}

func (bc *BillingController) createPaymentIntent(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	var in models.CreatePaymentIntentIn
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	secret, err := bc.Billing.CreatePaymentIntent(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.CreatePaymentIntentOut{ClientSecret: secret})
}

func (bc *BillingController) subscriptionStatus(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	status, err := bc.Quota.Snapshot(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (bc *BillingController) cancelSubscription(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	if err := bc.Billing.Cancel(c.Request().Context(), caller); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Subscription cancelled"})
}
