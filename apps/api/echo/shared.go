package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core/quiz"
)

const sharePasswordHeader = "X-Share-Password"

type sharedApi struct {
	svc quiz.Service
}

func registerSharedAPI(g *echo.Group, auth echo.MiddlewareFunc, deps Deps) {
	api := sharedApi{svc: deps.QuizSvc}

	sg := g.Group("/shared/:token")
	sg.GET("", api.retrieve)
	sg.POST("/copy", api.copy, auth)
}

// Handlers

func (api *sharedApi) retrieve(ctx echo.Context) error {
	shared, err := api.svc.GetShared(ctx.Request().Context(), ctx.Param("token"), ctx.Request().Header.Get(sharePasswordHeader))
	if err != nil {
		return errors.Wrap(err, "getting shared quiz")
	}
	return ctx.JSON(http.StatusOK, shared)
}

func (api *sharedApi) copy(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.CopyShared(ctx.Request().Context(), uid, ctx.Param("token"), ctx.Request().Header.Get(sharePasswordHeader))
	if err != nil {
		return errors.Wrap(err, "copying shared quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}
