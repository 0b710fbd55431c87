package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/services/clerk"
	"github.com/trezcool/quizbank/services/metrics"
)

const (
	providerClerk = "clerk"

	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBytes       = 1 << 20
)

type webhooksApi struct {
	billingSvc billing.Service
	userSvc    user.Service
	clerk      *clerk.Verifier
	logger     core.Logger
}

func registerWebhooksAPI(g *echo.Group, deps Deps, logger core.Logger) {
	api := webhooksApi{
		billingSvc: deps.BillingSvc,
		userSvc:    deps.UserSvc,
		clerk:      deps.Clerk,
		logger:     logger,
	}

	wg := g.Group("/webhooks")
	wg.POST("/stripe", api.stripe)
	wg.POST("/clerk", api.clerkUsers)
}

func readPayload(ctx echo.Context) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBytes))
	return payload, errors.Wrap(err, "reading webhook payload")
}

func webhookResult(err error) string {
	switch errors.Cause(err) {
	case nil:
		return "ok"
	case billing.ErrInvalidSignature, clerk.ErrInvalidSignature:
		return "rejected"
	case billing.ErrDisabled, clerk.ErrDisabled:
		return "disabled"
	default:
		return "error"
	}
}

// Handlers

func (api *webhooksApi) stripe(ctx echo.Context) error {
	payload, err := readPayload(ctx)
	if err != nil {
		return err
	}
	ev, err := api.billingSvc.HandleWebhook(ctx.Request().Context(), payload, ctx.Request().Header.Get(stripeSignatureHeader))
	metrics.ObserveWebhook(billing.ProviderStripe, ev.Type, webhookResult(err))
	if err != nil {
		return errors.Wrapf(err, "handling stripe event %s", ev.ID)
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}

func (api *webhooksApi) clerkUsers(ctx echo.Context) error {
	payload, err := readPayload(ctx)
	if err != nil {
		return err
	}
	ev, err := api.clerk.ParseEvent(payload, ctx.Request().Header)
	if err == nil {
		err = clerk.Apply(ctx.Request().Context(), api.userSvc, ev)
	}
	metrics.ObserveWebhook(providerClerk, ev.Type, webhookResult(err))
	if err != nil {
		return errors.Wrapf(err, "handling clerk event %s", ev.ID)
	}
	api.logger.Debug("clerk event applied", map[string]interface{}{"id": ev.ID, "type": ev.Type, "user": ev.User.ID})
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}
