package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

type signalApi struct {
	svc signal.ServiceInterface
}

func registerSignalAPI(g *echo.Group, svc signal.ServiceInterface) {
	api := signalApi{svc: svc}
	g.POST("/signals", api.create)
}

func (api *signalApi) create(ctx echo.Context) error {
	var data signal.NewEvent
	if err := ctx.Bind(&data); err != nil {
		return core.NewValidationError(signal.ErrInvalidSignal, core.FieldError{Field: "body", Error: "malformed JSON"})
	}
	evt, err := api.svc.Append(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "appending signal")
	}
	return ctx.JSON(http.StatusCreated, evt)
}
