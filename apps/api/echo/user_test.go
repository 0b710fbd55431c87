package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/quizbank/apps/api/echo"
	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/testutil"
)

func Test_userApi_retrieve(t *testing.T) {
	app := newTestApp(t)
	existing := testutil.CreateUser(t, app.usrRepo, "user_1", "ada@test.io", "Ada Lovelace")

	t.Run("existing user", func(t *testing.T) {
		rec := app.serve(newAuthRequest(http.MethodGet, "/v1/me", app.token(t, existing), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp echoapi.MeResponse
		unmarshalBody(t, rec, &resp)
		assert.Equal(t, existing.ID, resp.User.ID)
		assert.Equal(t, "Ada Lovelace", resp.User.Name)
		assert.Equal(t, billing.PlanFree, resp.Entitlement.Plan.ID)
		assert.Equal(t, 0, resp.Entitlement.Used)
		assert.Equal(t, 5, resp.Entitlement.Remaining)
	})

	t.Run("first sight creates the user", func(t *testing.T) {
		newcomer := user.User{ID: "user_2", Email: "grace@test.io", Name: "Grace"}
		rec := app.serve(newAuthRequest(http.MethodGet, "/v1/me", app.token(t, newcomer), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		usr, err := app.usrRepo.GetUser(context.Background(), newcomer.ID)
		require.NoError(t, err)
		assert.Equal(t, "grace@test.io", usr.Email)
	})
}

func Test_userApi_destroy(t *testing.T) {
	app := newTestApp(t)
	usr := testutil.CreateUser(t, app.usrRepo, "user_1", "ada@test.io", "Ada")
	testutil.CreateQuiz(t, app.quizRepo, quizFor(usr, "Go basics"))

	rec := app.serve(newAuthRequest(http.MethodDelete, "/v1/me", app.token(t, usr), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := app.usrRepo.GetUser(context.Background(), usr.ID)
	assert.True(t, core.IsNotFound(err))
}
