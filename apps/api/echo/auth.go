package echoapi

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core/user"
)

const (
	contextTokenKey = "userToken"
	contextUserKey  = "user"
)

// Claims are the claims of a Clerk session token.
// Email and Name are only present when the Clerk session token template adds them.
type Claims struct {
	jwt.StandardClaims
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// authMiddleware verifies the Clerk session token (RS256), then loads the user, creating it on first sight.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	if s.authKey == nil {
		return func(echo.HandlerFunc) echo.HandlerFunc {
			return func(echo.Context) error { return errAuthDisabled }
		}
	}

	verify := middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    s.authKey,
		SigningMethod: jwt.SigningMethodRS256.Alg(),
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.Subject == "" || (s.conf.Auth.ClerkIssuer != "" && claims.Issuer != s.conf.Auth.ClerkIssuer) {
				return errUnauthorized
			}
			usr, err := s.deps.UserSvc.Ensure(ctx.Request().Context(), claims.Subject, claims.Email, claims.Name)
			if err != nil {
				return errors.Wrap(err, "ensuring context user")
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		})
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUnauthorized
}
