package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

type personalityApi struct {
	svc personality.ServiceInterface
}

func registerPersonalityAPI(g *echo.Group, svc personality.ServiceInterface) {
	api := personalityApi{svc: svc}

	pg := g.Group("/personality")
	pg.POST("/analyze/:userId", api.analyze)
	pg.GET("/:userId", api.retrieve)
	pg.GET("/:userId/percentiles", api.percentiles)
	pg.GET("/:userId/history", api.history)
}

// Handlers

func (api *personalityApi) retrieve(ctx echo.Context) error {
	profile, err := api.svc.GetProfile(ctx.Request().Context(), ctx.Param("userId"))
	if err != nil {
		return errors.Wrap(err, "getting profile")
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *personalityApi) percentiles(ctx echo.Context) error {
	percentiles, err := api.svc.GetPercentiles(ctx.Request().Context(), ctx.Param("userId"))
	if err != nil {
		return errors.Wrap(err, "getting percentiles")
	}
	return ctx.JSON(http.StatusOK, percentiles)
}

func (api *personalityApi) history(ctx echo.Context) error {
	var ord Ordering
	ord.Bind(ctx)

	analyses, err := api.svc.GetHistory(ctx.Request().Context(), ctx.Param("userId"), ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "getting history")
	}
	return ctx.JSON(http.StatusOK, analyses)
}

func (api *personalityApi) analyze(ctx echo.Context) error {
	a, err := api.svc.TriggerAnalysis(ctx.Request().Context(), ctx.Param("userId"))
	if err != nil {
		return errors.Wrap(err, "analyzing")
	}
	return ctx.JSON(http.StatusOK, a)
}
