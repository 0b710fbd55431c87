package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/user"
)

type (
	userApi struct {
		svc        user.Service
		billingSvc billing.Service
	}

	MeResponse struct {
		User        user.User           `json:"user"`
		Entitlement billing.Entitlement `json:"entitlement"`
	}
)

func registerUserAPI(g *echo.Group, auth echo.MiddlewareFunc, deps Deps) {
	api := userApi{svc: deps.UserSvc, billingSvc: deps.BillingSvc}

	mg := g.Group("/me", auth)
	mg.GET("", api.retrieve)
	mg.DELETE("", api.destroy)
}

// Handlers

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ent, err := api.billingSvc.Entitlement(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "getting entitlement")
	}
	return ctx.JSON(http.StatusOK, MeResponse{User: usr, Entitlement: ent})
}

// destroy deletes the local account and its data; the Clerk account is managed by Clerk.
func (api *userApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}
