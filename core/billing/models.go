package billing

import (
	"context"
	"errors"
	"time"
)

// Subscription statuses, as reported by Stripe.
const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusIncomplete = "incomplete"
	StatusUnpaid     = "unpaid"
)

// Event types handled by Service.HandleEvent.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
)

const ProviderStripe = "stripe"

var (
	ErrDisabled         = errors.New("billing is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

type (
	Subscription struct {
		UserID               string
		PlanID               string
		Status               string
		StripeCustomerID     string
		StripeSubscriptionID string
		CurrentPeriodStart   time.Time
		CurrentPeriodEnd     time.Time
		CancelAtPeriodEnd    bool
		BonusCredits         int
		UpdatedAt            time.Time
	}

	Entitlement struct {
		Plan              Plan      `json:"plan"`
		Status            string    `json:"status"`
		Used              int       `json:"used"`
		Limit             int       `json:"limit"`
		BonusCredits      int       `json:"bonus_credits"`
		Remaining         int       `json:"remaining"`
		PeriodStart       time.Time `json:"period_start"`
		PeriodEnd         time.Time `json:"period_end"`
		CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	}

	// Event is a provider-neutral billing webhook event.
	Event struct {
		ID                string
		Type              string
		UserID            string // client_reference_id or metadata.user_id, when present
		CustomerID        string
		SubscriptionID    string
		PriceID           string
		Status            string
		PeriodStart       time.Time
		PeriodEnd         time.Time
		CancelAtPeriodEnd bool
	}

	CheckoutParams struct {
		UserID     string
		CustomerID string
		PriceID    string
		SuccessURL string
		CancelURL  string
	}

	// Gateway is the payment provider.
	Gateway interface {
		CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
		CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
		CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
		// ParseEvent verifies the payload signature and decodes it.
		ParseEvent(payload []byte, signature string) (Event, error)
	}
)

// active reports whether the subscription grants its plan at `now`.
func (sub Subscription) active(now time.Time) bool {
	switch sub.Status {
	case StatusActive, StatusTrialing:
		// manual (admin) subscriptions expire at their period end
		if sub.StripeSubscriptionID == "" && !sub.CurrentPeriodEnd.IsZero() {
			return now.Before(sub.CurrentPeriodEnd)
		}
		return true
	case StatusPastDue:
		return !sub.CurrentPeriodEnd.IsZero() && now.Before(sub.CurrentPeriodEnd)
	default:
		return false
	}
}

// window returns the usage window at `now`: the current period, or the calendar month (UTC).
func (sub Subscription) window(now time.Time) (time.Time, time.Time) {
	if !sub.CurrentPeriodStart.IsZero() && !sub.CurrentPeriodEnd.IsZero() &&
		!now.Before(sub.CurrentPeriodStart) && now.Before(sub.CurrentPeriodEnd) {
		return sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
