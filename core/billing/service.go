package billing

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

type (
	SubscriptionRepository interface {
		// GetSubscription returns a core.NotFoundError when the user never subscribed.
		GetSubscription(ctx context.Context, userID string, exec ...core.DBExecutor) (Subscription, error)
		SaveSubscription(ctx context.Context, sub Subscription, exec ...core.DBExecutor) error
		AddBonusCredits(ctx context.Context, userID string, n int, exec ...core.DBExecutor) error
	}

	UsageRepository interface {
		CountUsage(ctx context.Context, userID string, from, to time.Time, exec ...core.DBExecutor) (int, error)
		// ReserveUsage records a generation of `questions` questions at `at`. When `limit` generations are
		// already recorded in [from, to), a bonus credit is consumed first; ok is false when none is left.
		// Concurrent reservations of one user are serialized.
		ReserveUsage(ctx context.Context, userID string, questions int, at time.Time, w UsageWindow, exec ...core.DBExecutor) (ok bool, err error)
	}

	// UsageWindow is the billing period the usage limit applies to.
	UsageWindow struct {
		From, To time.Time
		Limit    int
	}

	EventRepository interface {
		IsEventProcessed(ctx context.Context, provider, id string, exec ...core.DBExecutor) (bool, error)
		MarkEventProcessed(ctx context.Context, provider, id, typ string, exec ...core.DBExecutor) error
	}

	Repository interface {
		SubscriptionRepository
		UsageRepository
		EventRepository
	}

	Service interface {
		Plans() []Plan
		Entitlement(ctx context.Context, userID string) (Entitlement, error)
		Reserve(ctx context.Context, userID string, questions int, withDocument bool) error
		CheckFeature(ctx context.Context, userID, feature string) error
		Checkout(ctx context.Context, usr user.User, planID string) (string, error)
		Portal(ctx context.Context, usr user.User) (string, error)
		HandleWebhook(ctx context.Context, payload []byte, signature string) (Event, error)
		HandleEvent(ctx context.Context, ev Event) error
		GrantCredits(ctx context.Context, userID string, n int) (Subscription, error)
		SetPlan(ctx context.Context, userID, planID string, until time.Time) (Subscription, error)
	}

	service struct {
		conf    *core.Config
		catalog *Catalog
		repo    Repository
		userSvc user.Service
		gateway Gateway // nil when billing is disabled
		mailSvc core.EmailService
		logger  core.Logger
		now     func() time.Time
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	conf *core.Config,
	catalog *Catalog,
	repo Repository,
	userSvc user.Service,
	gateway Gateway,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		conf:    conf,
		catalog: catalog,
		repo:    repo,
		userSvc: userSvc,
		gateway: gateway,
		mailSvc: mailSvc,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) Plans() []Plan {
	return svc.catalog.List()
}

func (svc *service) subscription(ctx context.Context, userID string) (Subscription, error) {
	sub, err := svc.repo.GetSubscription(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return Subscription{UserID: userID, PlanID: PlanFree}, nil
		}
		return Subscription{}, errors.Wrap(err, "getting subscription")
	}
	return sub, nil
}

func (svc *service) effectivePlan(sub Subscription, now time.Time) Plan {
	if sub.active(now) {
		if p, ok := svc.catalog.Get(sub.PlanID); ok {
			return p
		}
	}
	return svc.catalog.Free()
}

func (svc *service) Entitlement(ctx context.Context, userID string) (Entitlement, error) {
	sub, err := svc.subscription(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	now := svc.now()
	plan := svc.effectivePlan(sub, now)
	from, to := sub.window(now)

	used, err := svc.repo.CountUsage(ctx, userID, from, to)
	if err != nil {
		return Entitlement{}, errors.Wrap(err, "counting usage")
	}

	remaining := plan.MonthlyGenerations - used
	if remaining < 0 {
		remaining = 0
	}
	return Entitlement{
		Plan:              plan,
		Status:            sub.Status,
		Used:              used,
		Limit:             plan.MonthlyGenerations,
		BonusCredits:      sub.BonusCredits,
		Remaining:         remaining + sub.BonusCredits,
		PeriodStart:       from,
		PeriodEnd:         to,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// Reserve checks the user's plan allows a generation of `questions` questions and records its usage.
// Once the monthly generations are used up, bonus credits are consumed one at a time.
func (svc *service) Reserve(ctx context.Context, userID string, questions int, withDocument bool) error {
	ent, err := svc.Entitlement(ctx, userID)
	if err != nil {
		return err
	}
	if questions > ent.Plan.MaxQuestions {
		return core.NewPlanLimitError("the %s plan allows up to %d questions per generation", ent.Plan.Name, ent.Plan.MaxQuestions)
	}
	if withDocument && !ent.Plan.Documents {
		return core.NewPlanLimitError("document uploads are not included in the %s plan", ent.Plan.Name)
	}

	// the usage is counted again by the repository, atomically with the insert
	ok, err := svc.repo.ReserveUsage(ctx, userID, questions, svc.now(), UsageWindow{
		From:  ent.PeriodStart,
		To:    ent.PeriodEnd,
		Limit: ent.Limit,
	})
	if err != nil {
		return errors.Wrap(err, "reserving usage")
	}
	if !ok {
		return core.NewPlanLimitError("you have used all %d generations of the %s plan for this period", ent.Limit, ent.Plan.Name)
	}
	return nil
}

func (svc *service) CheckFeature(ctx context.Context, userID, feature string) error {
	sub, err := svc.subscription(ctx, userID)
	if err != nil {
		return err
	}
	plan := svc.effectivePlan(sub, svc.now())
	if !plan.Has(feature) {
		return core.NewPlanLimitError("%s is not included in the %s plan", featureNames[feature], plan.Name)
	}
	return nil
}

var featureNames = map[string]string{
	FeatureDocuments:   "document upload",
	FeatureGoogleForms: "Google Forms export",
}

func (svc *service) Checkout(ctx context.Context, usr user.User, planID string) (string, error) {
	if svc.gateway == nil {
		return "", ErrDisabled
	}
	plan, ok := svc.catalog.Get(planID)
	if !ok || !plan.Purchasable() {
		return "", core.NewFieldError("plan_id", "invalid plan")
	}

	customerID := usr.StripeCustomerID
	if customerID == "" {
		var err error
		if customerID, err = svc.gateway.CreateCustomer(ctx, usr.ID, usr.Email, usr.Name); err != nil {
			return "", errors.Wrap(err, "creating customer")
		}
		if err = svc.userSvc.SetStripeCustomer(ctx, usr.ID, customerID); err != nil {
			return "", errors.Wrap(err, "saving customer")
		}
	}

	url, err := svc.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		UserID:     usr.ID,
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		SuccessURL: svc.conf.Stripe.SuccessURL,
		CancelURL:  svc.conf.Stripe.CancelURL,
	})
	return url, errors.Wrap(err, "creating checkout session")
}

func (svc *service) Portal(ctx context.Context, usr user.User) (string, error) {
	if svc.gateway == nil {
		return "", ErrDisabled
	}
	if usr.StripeCustomerID == "" {
		return "", core.NewFieldError("customer", "no billing account yet, subscribe to a plan first")
	}
	url, err := svc.gateway.CreatePortalSession(ctx, usr.StripeCustomerID, svc.conf.Stripe.PortalReturnURL)
	return url, errors.Wrap(err, "creating portal session")
}

// HandleWebhook verifies and applies a raw webhook payload.
func (svc *service) HandleWebhook(ctx context.Context, payload []byte, signature string) (Event, error) {
	if svc.gateway == nil {
		return Event{}, ErrDisabled
	}
	ev, err := svc.gateway.ParseEvent(payload, signature)
	if err != nil {
		return Event{}, err
	}
	return ev, svc.HandleEvent(ctx, ev)
}

// HandleEvent applies a billing event once. Events for unknown users are acknowledged and ignored.
func (svc *service) HandleEvent(ctx context.Context, ev Event) error {
	if ev.ID != "" {
		done, err := svc.repo.IsEventProcessed(ctx, ProviderStripe, ev.ID)
		if err != nil {
			return errors.Wrap(err, "checking event")
		}
		if done {
			return nil
		}
	}

	if err := svc.applyEvent(ctx, ev); err != nil {
		return err
	}

	if ev.ID != "" {
		return errors.Wrap(svc.repo.MarkEventProcessed(ctx, ProviderStripe, ev.ID, ev.Type), "marking event")
	}
	return nil
}

func (svc *service) eventUser(ctx context.Context, ev Event) (user.User, error) {
	if ev.UserID != "" {
		return svc.userSvc.GetByID(ctx, ev.UserID)
	}
	return svc.userSvc.GetByStripeCustomer(ctx, ev.CustomerID)
}

func (svc *service) applyEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventInvoicePaid, EventInvoiceFailed:
	default:
		return nil
	}

	usr, err := svc.eventUser(ctx, ev)
	if err != nil {
		if core.IsNotFound(err) {
			svc.logger.Warn("billing event for unknown user", map[string]interface{}{
				"event": ev.ID, "type": ev.Type, "customer": ev.CustomerID, "user": ev.UserID,
			})
			return nil
		}
		return errors.Wrap(err, "resolving event user")
	}

	sub, err := svc.subscription(ctx, usr.ID)
	if err != nil {
		return err
	}
	wasPaid := svc.effectivePlan(sub, svc.now()).ID != PlanFree

	// only a checkout or a new subscription may switch the tracked subscription
	if ev.SubscriptionID != "" && sub.StripeSubscriptionID != "" && ev.SubscriptionID != sub.StripeSubscriptionID &&
		ev.Type != EventCheckoutCompleted && ev.Type != EventSubscriptionCreated {
		svc.logger.Warn("billing event for a replaced subscription", map[string]interface{}{
			"event": ev.ID, "type": ev.Type, "subscription": ev.SubscriptionID, "current": sub.StripeSubscriptionID,
		}, usr)
		return nil
	}

	if ev.CustomerID != "" {
		sub.StripeCustomerID = ev.CustomerID
		if usr.StripeCustomerID != ev.CustomerID {
			if err = svc.userSvc.SetStripeCustomer(ctx, usr.ID, ev.CustomerID); err != nil {
				return errors.Wrap(err, "linking customer")
			}
		}
	}
	if ev.SubscriptionID != "" {
		sub.StripeSubscriptionID = ev.SubscriptionID
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		sub.Status = StatusActive
		svc.applyPrice(&sub, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		sub.Status = ev.Status
		sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		svc.applyPrice(&sub, ev)
		svc.applyPeriod(&sub, ev)
	case EventSubscriptionDeleted:
		sub.Status = StatusCanceled
		sub.PlanID = PlanFree
		sub.CancelAtPeriodEnd = false
	case EventInvoicePaid:
		sub.Status = StatusActive
		svc.applyPeriod(&sub, ev)
	case EventInvoiceFailed:
		sub.Status = StatusPastDue
	}

	sub.UserID = usr.ID
	sub.UpdatedAt = svc.now()
	if err = svc.repo.SaveSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "saving subscription")
	}

	switch {
	case ev.Type == EventInvoiceFailed:
		svc.notify(usr, "Payment failed", "payment_failed", sub)
	case !wasPaid && svc.effectivePlan(sub, svc.now()).ID != PlanFree:
		svc.notify(usr, "Your subscription is active", "subscription_active", sub)
	}
	return nil
}

func (svc *service) applyPrice(sub *Subscription, ev Event) {
	if ev.PriceID == "" {
		return
	}
	plan, ok := svc.catalog.ByPrice(ev.PriceID)
	if !ok {
		svc.logger.Warn("billing event with unknown price", map[string]interface{}{"event": ev.ID, "price": ev.PriceID})
		return
	}
	sub.PlanID = plan.ID
}

func (svc *service) applyPeriod(sub *Subscription, ev Event) {
	if !ev.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = ev.PeriodStart
	}
	if !ev.PeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = ev.PeriodEnd
	}
}

func (svc *service) notify(usr user.User, subject, tmpl string, sub Subscription) {
	if usr.Email == "" {
		return
	}
	planName := sub.PlanID
	if p, ok := svc.catalog.Get(sub.PlanID); ok {
		planName = p.Name
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: map[string]interface{}{"Name": usr.DisplayName(), "Plan": planName},
	})
}

func (svc *service) GrantCredits(ctx context.Context, userID string, n int) (Subscription, error) {
	if n <= 0 {
		return Subscription{}, core.NewFieldError("credits", "must be greater than 0")
	}
	if _, err := svc.userSvc.GetByID(ctx, userID); err != nil {
		return Subscription{}, err
	}
	if err := svc.repo.AddBonusCredits(ctx, userID, n); err != nil {
		return Subscription{}, errors.Wrap(err, "granting credits")
	}
	return svc.subscription(ctx, userID)
}

// SetPlan records a manual subscription to `planID` that lasts until `until`.
func (svc *service) SetPlan(ctx context.Context, userID, planID string, until time.Time) (Subscription, error) {
	if _, ok := svc.catalog.Get(planID); !ok {
		return Subscription{}, core.NewFieldError("plan", "invalid plan")
	}
	now := svc.now()
	if planID != PlanFree && !until.After(now) {
		return Subscription{}, core.NewFieldError("until", "must be in the future")
	}
	if _, err := svc.userSvc.GetByID(ctx, userID); err != nil {
		return Subscription{}, err
	}

	sub, err := svc.subscription(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	sub.PlanID = planID
	sub.Status = StatusActive
	sub.StripeSubscriptionID = ""
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = until.UTC()
	sub.CancelAtPeriodEnd = false
	sub.UpdatedAt = now
	if planID == PlanFree {
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = time.Time{}, time.Time{}
	}
	if err = svc.repo.SaveSubscription(ctx, sub); err != nil {
		return Subscription{}, errors.Wrap(err, "saving subscription")
	}
	return sub, nil
}
