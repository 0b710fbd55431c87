package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
)

type billingRepository struct {
	db *DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

func (repo *billingRepository) GetSubscription(_ context.Context, userID string, _ ...core.DBExecutor) (billing.Subscription, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if sub, ok := repo.db.subscriptions[userID]; ok {
		return *sub, nil
	}
	return billing.Subscription{}, core.NewNotFoundError("subscription")
}

func (repo *billingRepository) SaveSubscription(_ context.Context, sub billing.Subscription, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[sub.UserID]; !ok {
		return core.NewNotFoundError("user")
	}
	if sub.PlanID == "" {
		sub.PlanID = billing.PlanFree
	}
	repo.db.subscriptions[sub.UserID] = &sub
	return nil
}

func (repo *billingRepository) AddBonusCredits(_ context.Context, userID string, n int, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[userID]; !ok {
		return core.NewNotFoundError("user")
	}
	sub, ok := repo.db.subscriptions[userID]
	if !ok {
		sub = &billing.Subscription{UserID: userID, PlanID: billing.PlanFree}
		repo.db.subscriptions[userID] = sub
	}
	sub.BonusCredits += n
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *billingRepository) countUsage(userID string, from, to time.Time) int {
	var n int
	for _, row := range repo.db.usage {
		if row.userID == userID && !row.at.Before(from) && row.at.Before(to) {
			n++
		}
	}
	return n
}

func (repo *billingRepository) CountUsage(_ context.Context, userID string, from, to time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.countUsage(userID, from, to), nil
}

func (repo *billingRepository) ReserveUsage(_ context.Context, userID string, questions int, at time.Time, w billing.UsageWindow, _ ...core.DBExecutor) (bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.countUsage(userID, w.From, w.To) >= w.Limit {
		sub, ok := repo.db.subscriptions[userID]
		if !ok || sub.BonusCredits <= 0 {
			return false, nil
		}
		sub.BonusCredits--
	}
	repo.db.usage = append(repo.db.usage, usageRow{userID: userID, questions: questions, at: at})
	return true, nil
}

func (repo *billingRepository) IsEventProcessed(_ context.Context, provider, id string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.db.events[provider+":"+id], nil
}

func (repo *billingRepository) MarkEventProcessed(_ context.Context, provider, id, _ string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	repo.db.events[provider+":"+id] = true
	return nil
}
