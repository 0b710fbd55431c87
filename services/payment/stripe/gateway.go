// Package stripe implements billing.Gateway with Stripe Checkout and the customer portal.
package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
)

const (
	metaUserID  = "user_id"
	metaPriceID = "price_id"
)

type gateway struct {
	api           *client.API
	webhookSecret string
}

var _ billing.Gateway = (*gateway)(nil) // interface compliance check

// NewGateway returns nil when no secret key is configured, which disables billing.
func NewGateway(conf *core.Config) billing.Gateway {
	if conf.Stripe.SecretKey == "" {
		return nil
	}
	return newGateway(conf.Stripe.SecretKey, conf.Stripe.WebhookSecret, nil)
}

func newGateway(key, webhookSecret string, backends *stripeapi.Backends) *gateway {
	return &gateway{api: client.New(key, backends), webhookSecret: webhookSecret}
}

func (gw *gateway) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(email),
		Name:  stripeapi.String(name),
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, userID)
	cus, err := gw.api.Customers.New(params)
	if err != nil {
		return "", errors.Wrap(err, "stripe: creating customer")
	}
	return cus.ID, nil
}

func (gw *gateway) CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (string, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		Customer:          stripeapi.String(p.CustomerID),
		ClientReferenceID: stripeapi.String(p.UserID),
		SuccessURL:        stripeapi.String(p.SuccessURL),
		CancelURL:         stripeapi.String(p.CancelURL),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(p.PriceID), Quantity: stripeapi.Int64(1)},
		},
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metaUserID: p.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, p.UserID)
	params.AddMetadata(metaPriceID, p.PriceID)
	sess, err := gw.api.CheckoutSessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "stripe: creating checkout session")
	}
	return sess.URL, nil
}

func (gw *gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripeapi.BillingPortalSessionParams{
		Customer:  stripeapi.String(customerID),
		ReturnURL: stripeapi.String(returnURL),
	}
	params.Context = ctx
	sess, err := gw.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "stripe: creating portal session")
	}
	return sess.URL, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the handled event objects.
func (gw *gateway) ParseEvent(payload []byte, signature string) (billing.Event, error) {
	stripeEv, err := webhook.ConstructEventWithOptions(payload, signature, gw.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return billing.Event{}, billing.ErrInvalidSignature
	}

	ev := billing.Event{ID: stripeEv.ID, Type: string(stripeEv.Type)}
	if stripeEv.Data == nil {
		return ev, nil
	}
	raw := stripeEv.Data.Raw

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		var sess stripeapi.CheckoutSession
		if err = json.Unmarshal(raw, &sess); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding checkout session")
		}
		ev.UserID = sess.ClientReferenceID
		if ev.UserID == "" {
			ev.UserID = sess.Metadata[metaUserID]
		}
		ev.PriceID = sess.Metadata[metaPriceID]
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripeapi.Subscription
		if err = json.Unmarshal(raw, &sub); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding subscription")
		}
		ev.UserID = sub.Metadata[metaUserID]
		ev.SubscriptionID = sub.ID
		ev.Status = string(sub.Status)
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		ev.PeriodStart = unixTime(sub.CurrentPeriodStart)
		ev.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.PriceID = sub.Items.Data[0].Price.ID
		}

	case billing.EventInvoicePaid, billing.EventInvoiceFailed:
		var inv stripeapi.Invoice
		if err = json.Unmarshal(raw, &inv); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding invoice")
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 {
			line := inv.Lines.Data[0]
			if line.Period != nil {
				ev.PeriodStart = unixTime(line.Period.Start)
				ev.PeriodEnd = unixTime(line.Period.End)
			}
			if line.Price != nil {
				ev.PriceID = line.Price.ID
			}
		}
	}
	return ev, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
