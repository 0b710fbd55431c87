package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core/billing"
)

type (
	billingApi struct {
		svc billing.Service
	}

	CheckoutRequest struct {
		PlanID string `json:"plan_id"`
	}

	RedirectResponse struct {
		URL string `json:"url"`
	}
)

func registerBillingAPI(g *echo.Group, auth echo.MiddlewareFunc, deps Deps) {
	api := billingApi{svc: deps.BillingSvc}

	bg := g.Group("/billing")
	bg.GET("/plans", api.plans)

	ag := bg.Group("", auth)
	ag.GET("/subscription", api.subscription)
	ag.POST("/checkout", api.checkout)
	ag.POST("/portal", api.portal)
}

// Handlers

func (api *billingApi) plans(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Plans())
}

func (api *billingApi) subscription(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ent, err := api.svc.Entitlement(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "getting entitlement")
	}
	return ctx.JSON(http.StatusOK, ent)
}

func (api *billingApi) checkout(ctx echo.Context) error {
	var data CheckoutRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckoutRequest")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	url, err := api.svc.Checkout(ctx.Request().Context(), usr, data.PlanID)
	if err != nil {
		return errors.Wrap(err, "creating checkout session")
	}
	return ctx.JSON(http.StatusOK, RedirectResponse{URL: url})
}

func (api *billingApi) portal(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	url, err := api.svc.Portal(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "creating portal session")
	}
	return ctx.JSON(http.StatusOK, RedirectResponse{URL: url})
}
