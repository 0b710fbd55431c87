package user_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
	inmemdb "github.com/trezcool/quizbank/storage/database/inmem"
	"github.com/trezcool/quizbank/testutil"
)

func TestClerkUser(t *testing.T) {
	cu := user.ClerkUser{
		ID:             "user_1",
		FirstName:      " Ada ",
		LastName:       "Lovelace",
		PrimaryEmailID: "e2",
		Emails: []user.ClerkEmail{
			{ID: "e1", Address: "old@test.io"},
			{ID: "e2", Address: " Ada@Test.IO "},
		},
	}
	assert.Equal(t, "ada@test.io", cu.PrimaryEmail())
	assert.Equal(t, "Ada Lovelace", cu.FullName())

	cu.PrimaryEmailID = "unknown"
	assert.Equal(t, "old@test.io", cu.PrimaryEmail())
	assert.Equal(t, "", user.ClerkUser{}.PrimaryEmail())
}

func TestUser_DisplayName(t *testing.T) {
	tests := []struct {
		usr  user.User
		want string
	}{
		{user.User{Name: "Ada", Email: "ada@test.io"}, "Ada"},
		{user.User{Email: "grace@test.io"}, "grace"},
		{user.User{}, "there"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.usr.DisplayName())
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.Open()
	repo := inmemdb.NewUserRepository(db)
	svc := user.NewService(repo)

	t.Run("Sync creates then updates", func(t *testing.T) {
		usr, err := svc.Sync(ctx, user.ClerkUser{
			ID: "user_1", FirstName: "Ada", PrimaryEmailID: "e1",
			Emails: []user.ClerkEmail{{ID: "e1", Address: "ADA@test.io"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "ada@test.io", usr.Email)
		assert.Equal(t, "Ada", usr.Name)

		usr, err = svc.Sync(ctx, user.ClerkUser{
			ID: "user_1", FirstName: "Ada", LastName: "Lovelace", ImageURL: "https://img.test/a.png", PrimaryEmailID: "e1",
			Emails: []user.ClerkEmail{{ID: "e1", Address: "ada@test.io"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", usr.Name)
		assert.Equal(t, "https://img.test/a.png", usr.ImageURL)

		_, err = svc.Sync(ctx, user.ClerkUser{})
		assert.IsType(t, &core.ValidationError{}, err)
	})

	t.Run("Ensure", func(t *testing.T) {
		existing := testutil.CreateUser(t, repo, "user_2", "grace@test.io", "Grace")

		usr, err := svc.Ensure(ctx, "user_2", "other@test.io", "Other")
		require.NoError(t, err)
		assert.Equal(t, existing, usr)

		usr, err = svc.Ensure(ctx, "user_3", " New@Test.io ", " Newbie ")
		require.NoError(t, err)
		assert.Equal(t, "user_3", usr.ID)
		assert.Equal(t, "new@test.io", usr.Email)
		assert.Equal(t, "Newbie", usr.Name)

		got, err := svc.GetByID(ctx, "user_3")
		require.NoError(t, err)
		assert.Equal(t, usr.Email, got.Email)
	})

	t.Run("Stripe customer", func(t *testing.T) {
		testutil.CreateUser(t, repo, "user_4", "linus@test.io", "Linus")

		_, err := svc.GetByStripeCustomer(ctx, "")
		assert.True(t, core.IsNotFound(err))
		_, err = svc.GetByStripeCustomer(ctx, "cus_1")
		assert.True(t, core.IsNotFound(err))

		require.NoError(t, svc.SetStripeCustomer(ctx, "user_4", "cus_1"))
		usr, err := svc.GetByStripeCustomer(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, "user_4", usr.ID)

		assert.True(t, core.IsNotFound(svc.SetStripeCustomer(ctx, "unknown", "cus_2")))
	})

	t.Run("Delete", func(t *testing.T) {
		testutil.CreateUser(t, repo, "user_5", "bye@test.io", "Bye")
		require.NoError(t, svc.Delete(ctx, "user_5"))

		_, err := svc.GetByID(ctx, "user_5")
		assert.True(t, core.IsNotFound(err))
		assert.True(t, core.IsNotFound(svc.Delete(ctx, "user_5")))
	})
}
