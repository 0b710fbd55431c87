// Package clerk verifies and applies the Clerk user webhooks, delivered through Svix.
package clerk

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

// Handled event types
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

var (
	ErrDisabled         = errors.New("clerk webhooks are not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

type Event struct {
	ID   string // svix message id
	Type string
	User user.ClerkUser
}

type Verifier struct {
	wh *svix.Webhook
}

// NewVerifier returns a nil Verifier when no secret is configured.
func NewVerifier(conf *core.Config) (*Verifier, error) {
	if conf.Auth.ClerkWebhookSecret == "" {
		return nil, nil
	}
	wh, err := svix.NewWebhook(conf.Auth.ClerkWebhookSecret)
	if err != nil {
		return nil, errors.Wrap(err, "clerk webhook secret")
	}
	return &Verifier{wh: wh}, nil
}

// ParseEvent checks the svix-* headers against the payload and decodes it.
func (v *Verifier) ParseEvent(payload []byte, headers http.Header) (Event, error) {
	if v == nil {
		return Event{}, ErrDisabled
	}
	if err := v.wh.Verify(payload, headers); err != nil {
		return Event{}, ErrInvalidSignature
	}

	var body struct {
		Type string         `json:"type"`
		Data user.ClerkUser `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, core.NewValidationError(errors.Wrap(err, "decoding clerk event"))
	}
	return Event{ID: headers.Get("svix-id"), Type: body.Type, User: body.Data}, nil
}

// Apply mirrors the event into the users. Other event types are ignored.
func Apply(ctx context.Context, userSvc user.Service, ev Event) error {
	switch ev.Type {
	case EventUserCreated, EventUserUpdated:
		_, err := userSvc.Sync(ctx, ev.User)
		return err
	case EventUserDeleted:
		err := userSvc.Delete(ctx, ev.User.ID)
		if core.IsNotFound(err) {
			return nil
		}
		return err
	default:
		return nil
	}
}
