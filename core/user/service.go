package user

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
)

type (
	Repository interface {
		GetUser(ctx context.Context, id string, exec ...core.DBExecutor) (User, error)
		GetUserByStripeCustomer(ctx context.Context, customerID string, exec ...core.DBExecutor) (User, error)
		// UpsertUser inserts the user or updates its email, name and image.
		UpsertUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		SetStripeCustomer(ctx context.Context, id, customerID string, exec ...core.DBExecutor) error
		DeleteUser(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	Service interface {
		Sync(ctx context.Context, cu ClerkUser) (User, error)
		Ensure(ctx context.Context, id, email, name string) (User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByStripeCustomer(ctx context.Context, customerID string) (User, error)
		SetStripeCustomer(ctx context.Context, id, customerID string) error
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// Sync creates or updates the user from a Clerk `user.created` or `user.updated` payload.
func (svc *service) Sync(ctx context.Context, cu ClerkUser) (User, error) {
	if cu.ID == "" {
		return User{}, core.NewFieldError("id", "this field is required")
	}
	now := time.Now().UTC()
	usr := User{
		ID:        cu.ID,
		Email:     cu.PrimaryEmail(),
		Name:      cu.FullName(),
		ImageURL:  core.CleanString(cu.ImageURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr, err := svc.repo.UpsertUser(ctx, usr)
	return usr, errors.Wrap(err, "syncing user")
}

// Ensure returns the user, creating a minimal record the first time an authenticated subject is seen.
func (svc *service) Ensure(ctx context.Context, id, email, name string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, id)
	if err == nil {
		return usr, nil
	}
	if !core.IsNotFound(err) {
		return User{}, err
	}

	now := time.Now().UTC()
	usr = User{
		ID:        id,
		Email:     core.CleanString(email, true /* lower */),
		Name:      core.CleanString(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr, err = svc.repo.UpsertUser(ctx, usr)
	return usr, errors.Wrap(err, "creating user")
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, id)
}

func (svc *service) GetByStripeCustomer(ctx context.Context, customerID string) (User, error) {
	if customerID == "" {
		return User{}, core.NewNotFoundError("user")
	}
	return svc.repo.GetUserByStripeCustomer(ctx, customerID)
}

func (svc *service) SetStripeCustomer(ctx context.Context, id, customerID string) error {
	return svc.repo.SetStripeCustomer(ctx, id, customerID)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteUser(ctx, id)
}
