// Package sqlxrepos implements the repositories on Postgres with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
)

type base struct {
	db *sqlx.DB
}

// getExec returns the executor passed by the service (a transaction), or the DB.
func (b base) getExec(svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 {
		switch exec := svcExec[0].(type) {
		case sqlx.ExtContext:
			return exec
		case *sql.Tx:
			return &sqlx.Tx{Tx: exec, Mapper: b.db.Mapper}
		}
	}
	return b.db
}

// inTx runs fn in the service transaction when there is one, in a new transaction otherwise.
func (b base) inTx(ctx context.Context, svcExec []core.DBExecutor, fn func(exec sqlx.ExtContext) error) error {
	if len(svcExec) > 0 {
		return fn(b.getExec(svcExec))
	}
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func trapNoRowsErr(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError(resource)
	}
	return err
}

// isUniqueViolation reports whether err is a unique constraint violation on `constraint` (any when empty).
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return constraint == "" || pqErr.Constraint == constraint
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func affectedOrNotFound(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if n == 0 {
		return core.NewNotFoundError(resource)
	}
	return nil
}
