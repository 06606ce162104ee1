package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"styleaiapi/models"
	"styleaiapi/services"
)

type AdminController struct {
	Quota *services.QuotaGate
}

func (ac *AdminController) AdminRoutes(g *echo.Group) {
	g.GET("/usage/:uid", ac.getUsage)
	g.PUT("/usage/:uid", ac.updateUsage)
}

func (ac *AdminController) getUsage(c echo.Context) error {
	rec, err := ac.Quota.Store.Get(c.Request().Context(), c.Param("uid"))
	if errors.Is(err, services.ErrUsageNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "usage record not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (ac *AdminController) updateUsage(c echo.Context) error {
	uid := c.Param("uid")
	var in models.AdminUsageUpdateIn
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	if in.SubscriptionTier == "" && in.DailyTextGenerations == nil && in.DailyImageGenerations == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}

	ctx := c.Request().Context()
	rec, err := ac.Quota.Store.GetOrCreate(ctx, models.Caller{UID: uid}, ac.Quota.Today())
	if err != nil {
		return err
	}
	if in.SubscriptionTier != "" {
		if rec, err = ac.Quota.ApplyTier(ctx, uid, models.SubscriptionTier(in.SubscriptionTier)); err != nil {
			return err
		}
	}
	if in.DailyTextGenerations != nil || in.DailyImageGenerations != nil {
		if rec, err = ac.Quota.Store.SetCounters(ctx, uid, in.DailyTextGenerations, in.DailyImageGenerations); err != nil {
			return err
		}
	}
	zerolog.Ctx(ctx).Info().Str("target_uid", uid).Str("tier", string(rec.SubscriptionTier)).Msg("usage overridden by admin")
	return c.JSON(http.StatusOK, rec)
}
