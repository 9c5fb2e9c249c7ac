package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

var errMalformedUser = errors.New("malformed user")

type userApi struct {
	svc personality.ServiceInterface
}

func registerUserAPI(g *echo.Group, svc personality.ServiceInterface) {
	api := userApi{svc: svc}
	g.PUT("/users/:userId", api.save)
}

// save creates or updates the identity of a user.
func (api *userApi) save(ctx echo.Context) error {
	var data personality.NewUser
	if err := ctx.Bind(&data); err != nil {
		return core.NewValidationError(errMalformedUser, core.FieldError{Field: "body", Error: "malformed JSON"})
	}
	data.ID = ctx.Param("userId")

	usr, err := api.svc.RegisterUser(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.JSON(http.StatusOK, usr)
}
