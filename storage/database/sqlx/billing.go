package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
)

type billingRepository struct {
	base
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *sqlx.DB) billing.Repository {
	return &billingRepository{base{db: db}}
}

type subscriptionRow struct {
	UserID               string      `db:"user_id"`
	PlanID               string      `db:"plan_id"`
	Status               string      `db:"status"`
	StripeCustomerID     null.String `db:"stripe_customer_id"`
	StripeSubscriptionID null.String `db:"stripe_subscription_id"`
	CurrentPeriodStart   null.Time   `db:"current_period_start"`
	CurrentPeriodEnd     null.Time   `db:"current_period_end"`
	CancelAtPeriodEnd    bool        `db:"cancel_at_period_end"`
	BonusCredits         int         `db:"bonus_credits"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

func utcTime(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (r subscriptionRow) subscription() billing.Subscription {
	return billing.Subscription{
		UserID:               r.UserID,
		PlanID:               r.PlanID,
		Status:               r.Status,
		StripeCustomerID:     r.StripeCustomerID.String,
		StripeSubscriptionID: r.StripeSubscriptionID.String,
		CurrentPeriodStart:   utcTime(r.CurrentPeriodStart),
		CurrentPeriodEnd:     utcTime(r.CurrentPeriodEnd),
		CancelAtPeriodEnd:    r.CancelAtPeriodEnd,
		BonusCredits:         r.BonusCredits,
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

func (repo *billingRepository) GetSubscription(ctx context.Context, userID string, exec ...core.DBExecutor) (billing.Subscription, error) {
	var row subscriptionRow
	err := sqlx.GetContext(ctx, repo.getExec(exec), &row, `SELECT user_id, plan_id, status, stripe_customer_id,
		stripe_subscription_id, current_period_start, current_period_end, cancel_at_period_end, bonus_credits, updated_at
		FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return billing.Subscription{}, trapNoRowsErr(err, "subscription")
	}
	return row.subscription(), nil
}

// SaveSubscription upserts the subscription. Bonus credits are only changed through AddBonusCredits and ReserveUsage.
func (repo *billingRepository) SaveSubscription(ctx context.Context, sub billing.Subscription, exec ...core.DBExecutor) error {
	if sub.PlanID == "" {
		sub.PlanID = billing.PlanFree
	}
	_, err := repo.getExec(exec).ExecContext(ctx, `INSERT INTO subscriptions (user_id, plan_id, status, stripe_customer_id,
			stripe_subscription_id, current_period_start, current_period_end, cancel_at_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.PlanID, sub.Status, nullString(sub.StripeCustomerID), nullString(sub.StripeSubscriptionID),
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd, sub.UpdatedAt.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.NewNotFoundError("user")
		}
		return errors.Wrap(err, "saving subscription")
	}
	return nil
}

func (repo *billingRepository) AddBonusCredits(ctx context.Context, userID string, n int, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, `INSERT INTO subscriptions (user_id, plan_id, bonus_credits, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			bonus_credits = subscriptions.bonus_credits + EXCLUDED.bonus_credits,
			updated_at = EXCLUDED.updated_at`,
		userID, billing.PlanFree, n, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.NewNotFoundError("user")
		}
		return errors.Wrap(err, "adding bonus credits")
	}
	return nil
}

const countUsageQuery = `SELECT COUNT(*) FROM usage_events WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`

func (repo *billingRepository) CountUsage(ctx context.Context, userID string, from, to time.Time, exec ...core.DBExecutor) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, repo.getExec(exec), &n, countUsageQuery, userID, from.UTC(), to.UTC())
	return n, errors.Wrap(err, "counting usage")
}

func (repo *billingRepository) ReserveUsage(ctx context.Context, userID string, questions int, at time.Time, w billing.UsageWindow, exec ...core.DBExecutor) (bool, error) {
	var ok bool
	err := repo.inTx(ctx, exec, func(tx sqlx.ExtContext) error {
		// held until the transaction ends
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return errors.Wrap(err, "locking usage")
		}
		var used int
		if err := sqlx.GetContext(ctx, tx, &used, countUsageQuery, userID, w.From.UTC(), w.To.UTC()); err != nil {
			return errors.Wrap(err, "counting usage")
		}
		if used >= w.Limit {
			res, err := tx.ExecContext(ctx,
				`UPDATE subscriptions SET bonus_credits = bonus_credits - 1 WHERE user_id = $1 AND bonus_credits > 0`, userID)
			if err != nil {
				return errors.Wrap(err, "consuming bonus credit")
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				// nil when no credit is left: ok stays false
				return errors.Wrap(err, "consuming bonus credit")
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO usage_events (id, user_id, questions, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), userID, questions, at.UTC())
		if err != nil {
			return errors.Wrap(err, "recording usage")
		}
		ok = true
		return nil
	})
	return ok, err
}

func (repo *billingRepository) IsEventProcessed(ctx context.Context, provider, id string, exec ...core.DBExecutor) (bool, error) {
	var found bool
	err := sqlx.GetContext(ctx, repo.getExec(exec), &found,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE provider = $1 AND id = $2)`, provider, id)
	return found, errors.Wrap(err, "checking webhook event")
}

func (repo *billingRepository) MarkEventProcessed(ctx context.Context, provider, id, eventType string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx, `INSERT INTO webhook_events (provider, id, type, processed_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (provider, id) DO NOTHING`,
		provider, id, eventType, time.Now().UTC())
	return errors.Wrap(err, "marking webhook event")
}
