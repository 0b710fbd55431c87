package inmemdb

import (
	"context"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) GetUser(_ context.Context, id string, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if usr, ok := repo.db.users[id]; ok {
		return *usr, nil
	}
	return user.User{}, core.NewNotFoundError("user")
}

func (repo *userRepository) GetUserByStripeCustomer(_ context.Context, customerID string, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, usr := range repo.db.users {
		if customerID != "" && usr.StripeCustomerID == customerID {
			return *usr, nil
		}
	}
	return user.User{}, core.NewNotFoundError("user")
}

func (repo *userRepository) UpsertUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.users[usr.ID]
	if !ok {
		repo.db.users[usr.ID] = &usr
		return usr, nil
	}
	// blank values do not overwrite known ones
	if usr.Email != "" {
		orig.Email = usr.Email
	}
	if usr.Name != "" {
		orig.Name = usr.Name
	}
	if usr.ImageURL != "" {
		orig.ImageURL = usr.ImageURL
	}
	orig.UpdatedAt = usr.UpdatedAt
	return *orig, nil
}

func (repo *userRepository) SetStripeCustomer(_ context.Context, id, customerID string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return core.NewNotFoundError("user")
	}
	usr.StripeCustomerID = customerID
	return nil
}

func (repo *userRepository) DeleteUser(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[id]; !ok {
		return core.NewNotFoundError("user")
	}
	delete(repo.db.users, id)
	delete(repo.db.subscriptions, id)

	usage := repo.db.usage[:0]
	for _, row := range repo.db.usage {
		if row.userID != id {
			usage = append(usage, row)
		}
	}
	repo.db.usage = usage

	for qid, qz := range repo.db.quizzes {
		if qz.OwnerID == id {
			delete(repo.db.quizzes, qid)
			delete(repo.db.questions, qid)
		}
	}
	return nil
}
