package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/quizbank/services/metrics"
)

// metricsMiddleware counts the requests by route pattern, after the error handler has set the status.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := next(ctx); err != nil {
			ctx.Error(err)
		}
		route := ctx.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(ctx.Request().Method, route, ctx.Response().Status)
		return nil
	}
}
