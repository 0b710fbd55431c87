package core

import (
	"context"
	"database/sql"
	"strings"
)

// DBExecutor runs queries; both a DB and a Tx are executors.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrderings reads "title,-created_at" style values; a leading "-" sorts descending.
// The first ordering of a field wins.
func ParseOrderings(values ...string) []DBOrdering {
	var res []DBOrdering
	seen := make(map[string]bool)
	for _, val := range values {
		for _, field := range strings.Split(val, ",") {
			field = strings.TrimSpace(field)
			descending := strings.HasPrefix(field, "-")
			field = strings.ToLower(strings.TrimPrefix(field, "-"))
			if field == "" || seen[field] {
				continue
			}
			seen[field] = true
			res = append(res, DBOrdering{Field: field, Ascending: !descending})
		}
	}
	return res
}

// FilterOrderings drops orderings on fields that are not in `allowed`.
func FilterOrderings(orderings []DBOrdering, allowed ...string) []DBOrdering {
	if len(orderings) == 0 {
		return nil
	}
	ok := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		ok[f] = true
	}
	res := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if ok[ord.Field] {
			res = append(res, ord)
		}
	}
	return res
}
