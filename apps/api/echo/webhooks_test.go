package echoapi_test

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/services/clerk"
)

const clerkSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func newClerkRequest(t *testing.T, msgID, payload string) *http.Request {
	wh, err := svix.NewWebhook(clerkSecret)
	require.NoError(t, err)
	ts := time.Now()
	sig, err := wh.Sign(msgID, ts, []byte(payload))
	require.NoError(t, err)

	req := newAuthRequest(http.MethodPost, "/v1/webhooks/clerk", "", []byte(payload))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("svix-signature", sig)
	return req
}

func Test_webhooksApi_disabled(t *testing.T) {
	app := newTestApp(t)

	app.run(t, []httpTest{
		{
			name: "stripe", method: http.MethodPost, path: "/v1/webhooks/stripe", body: []byte(`{}`),
			headers: map[string]string{"Stripe-Signature": "t=1,v1=abc"}, wantCode: http.StatusServiceUnavailable,
			wantData: marshalObj(t, httpErr{Error: billing.ErrDisabled.Error()}),
		},
		{
			name: "clerk", method: http.MethodPost, path: "/v1/webhooks/clerk", body: []byte(`{}`),
			wantCode: http.StatusServiceUnavailable, wantData: marshalObj(t, httpErr{Error: clerk.ErrDisabled.Error()}),
		},
	})
}

func Test_webhooksApi_clerk(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, func(conf *core.Config) { conf.Auth.ClerkWebhookSecret = clerkSecret })

	created := `{"object": "event", "type": "user.created", "data": {
		"id": "user_1", "first_name": "Ada", "last_name": "Lovelace",
		"primary_email_address_id": "idn_1",
		"email_addresses": [{"id": "idn_1", "email_address": "Ada@Test.io"}]}}`
	deleted := `{"object": "event", "type": "user.deleted", "data": {"id": "user_1", "deleted": true}}`

	t.Run("invalid signature", func(t *testing.T) {
		req := newClerkRequest(t, "msg_0", created)
		req.Header.Set("svix-signature", "v1,bG9s")
		rec := app.serve(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error": "invalid webhook signature"}`, rec.Body.String())
	})

	t.Run("tampered payload", func(t *testing.T) {
		req := newClerkRequest(t, "msg_0", created)
		tampered := strings.Replace(created, "Ada@Test.io", "eve@test.io", 1)
		req.Body = newAuthRequest(http.MethodPost, "/", "", []byte(tampered)).Body
		assert.Equal(t, http.StatusBadRequest, app.serve(req).Code)
	})

	t.Run("user.created", func(t *testing.T) {
		rec := app.serve(newClerkRequest(t, "msg_1", created))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"received": true}`, rec.Body.String())

		usr, err := app.usrRepo.GetUser(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "ada@test.io", usr.Email)
		assert.Equal(t, "Ada Lovelace", usr.Name)
	})

	t.Run("redelivery is harmless", func(t *testing.T) {
		rec := app.serve(newClerkRequest(t, "msg_1", created))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("user.deleted", func(t *testing.T) {
		rec := app.serve(newClerkRequest(t, "msg_2", deleted))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		_, err := app.usrRepo.GetUser(ctx, "user_1")
		assert.True(t, core.IsNotFound(err))
	})
}
