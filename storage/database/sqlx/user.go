package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{base{db: db}}
}

type userRow struct {
	ID               string      `db:"id"`
	Email            string      `db:"email"`
	Name             string      `db:"name"`
	ImageURL         string      `db:"image_url"`
	StripeCustomerID null.String `db:"stripe_customer_id"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r userRow) user() user.User {
	return user.User{
		ID:               r.ID,
		Email:            r.Email,
		Name:             r.Name,
		ImageURL:         r.ImageURL,
		StripeCustomerID: r.StripeCustomerID.String,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

const userColumns = `id, email, name, image_url, stripe_customer_id, created_at, updated_at`

func (repo *userRepository) GetUser(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, repo.getExec(exec), &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, "user")
	}
	return row.user(), nil
}

func (repo *userRepository) GetUserByStripeCustomer(ctx context.Context, customerID string, exec ...core.DBExecutor) (user.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, repo.getExec(exec), &row,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, "user")
	}
	return row.user(), nil
}

// UpsertUser inserts the user, or updates its non-blank fields.
func (repo *userRepository) UpsertUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := `INSERT INTO users (id, email, name, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), users.image_url),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	var row userRow
	err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q,
		usr.ID, usr.Email, usr.Name, usr.ImageURL, usr.CreatedAt.UTC(), usr.UpdatedAt.UTC())
	if err != nil {
		return user.User{}, errors.Wrap(err, "upserting user")
	}
	return row.user(), nil
}

func (repo *userRepository) SetStripeCustomer(ctx context.Context, id, customerID string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = $3 WHERE id = $1`,
		id, null.NewString(customerID, customerID != ""), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err, "") {
			return core.NewFieldError("stripe_customer_id", "customer already linked to another user")
		}
		return errors.Wrap(err, "setting stripe customer")
	}
	return affectedOrNotFound(res, "user")
}

func (repo *userRepository) DeleteUser(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return affectedOrNotFound(res, "user")
}
