package echoapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/quizbank/apps/api/echo"
	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/testutil"
)

func TestServer_routes(t *testing.T) {
	app := newTestApp(t)

	app.run(t, []httpTest{
		{name: "health", path: "/health", wantCode: http.StatusOK, wantData: []byte(`{"status": "ok", "build": ""}`)},
		{name: "trailing slash", path: "/health/", wantCode: http.StatusOK},
		{name: "unknown route", path: "/v1/lol", wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "Not Found"})},
	})

	t.Run("home", func(t *testing.T) {
		rec := app.serve(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Welcome to QuizBank API!", rec.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		rec := app.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "quizbank_http_requests_total")
	})
}

func TestServer_health_unavailable(t *testing.T) {
	app := newTestApp(t)
	srv, err := echoapi.NewServer(app.conf, testutil.Logger(), echoapi.Deps{
		UserSvc: user.NewService(app.usrRepo),
		Health:  func(context.Context) error { return errors.New("connection refused") },
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status": "unavailable"}`, rec.Body.String())
}

func TestServer_auth(t *testing.T) {
	app := newTestApp(t)
	usr := user.User{ID: "user_1", Email: "ada@test.io", Name: "Ada"}

	otherKey, _ := testutil.NewRSAKey(t)
	forged := testutil.SignToken(t, otherKey, echoapi.Claims{Email: "eve@test.io"})

	wrongIssuer := newTestApp(t, func(conf *core.Config) { conf.Auth.ClerkIssuer = "https://clerk.other.test" })
	noAuth := newTestApp(t, func(conf *core.Config) { conf.Auth.ClerkJWTKey = "" })

	app.run(t, []httpTest{
		{name: "missing token", path: "/v1/me", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "malformed token", path: "/v1/me", token: "not.a.jwt", wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name: "foreign key", path: "/v1/me", token: forged, wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{name: "valid token", path: "/v1/me", token: app.token(t, usr), wantCode: http.StatusOK},
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		rec := wrongIssuer.serve(newAuthRequest(http.MethodGet, "/v1/me", app.token(t, usr), nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		rec := app.serve(newAuthRequest(http.MethodGet, "/v1/me", app.token(t, user.User{}), nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error": "user not authenticated"}`, rec.Body.String())
	})

	t.Run("auth disabled", func(t *testing.T) {
		rec := noAuth.serve(newAuthRequest(http.MethodGet, "/v1/me", "", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"error": "authentication is not configured"}`, rec.Body.String())

		rec = noAuth.serve(newAuthRequest(http.MethodGet, "/v1/billing/plans", "", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_bodyLimit(t *testing.T) {
	app := newTestApp(t, func(conf *core.Config) { conf.Server.MaxUploadBytes = 1 })
	usr := testutil.CreateUser(t, app.usrRepo, "user_1", "ada@test.io", "Ada")

	body := `{"title": "Big", "source_kind": "text", "text": "` + strings.Repeat("a", 2<<20) + `"}`
	rec := app.serve(newAuthRequest(http.MethodPost, "/v1/quizzes", app.token(t, usr), []byte(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
