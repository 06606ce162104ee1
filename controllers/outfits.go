package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"styleaiapi/models"
	"styleaiapi/services"
)

type OutfitController struct {
	Pipeline *services.OutfitPipeline
	Intake   services.IntakeOptions
}

type OutfitHistoryOut struct {
	Analyses []models.OutfitAnalysis `json:"analyses"`
}

func (oc *OutfitController) OutfitRoutes(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/generate-outfits", oc.generateOutfits, auth)
	g.POST("/generate-outfit-image", oc.generateOutfitImage, auth)
	g.GET("/outfit-history", oc.history, auth)
}

func (oc *OutfitController) generateOutfits(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Info().Err(err).Msg("request without multipart body")
		return services.NoImagesError{}
	}
	defer form.RemoveAll()

	batch, err := services.ReadUploadBatch(form, oc.Intake)
	if err != nil {
		return err
	}
	out, err := oc.Pipeline.Analyze(c.Request().Context(), caller, batch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (oc *OutfitController) generateOutfitImage(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	var in models.GenerateOutfitImageIn
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := oc.Pipeline.Render(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (oc *OutfitController) history(c echo.Context) error {
	caller, err := currentCaller(c)
	if err != nil {
		return err
	}
	var limit int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
	}
	analyses, err := oc.Pipeline.History(c.Request().Context(), caller, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OutfitHistoryOut{Analyses: analyses})
}
