package core

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

// RunInTx runs fn in a DB transaction and commits it if fn succeeds.
// When db is nil (in-memory storage), fn is called with a nil executor.
func RunInTx(ctx context.Context, db DB, fn func(exec DBExecutor) error) error {
	if db == nil {
		return fn(nil)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back transaction: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
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

// AllowedOrderings drops the orderings whose field is not in allowed.
// Ordering fields end up in raw SQL, never pass user input through unchecked.
func AllowedOrderings(ordering []DBOrdering, allowed ...string) []DBOrdering {
	if len(ordering) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}
	res := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if _, ok := set[ord.Field]; ok {
			res = append(res, ord)
		}
	}
	return res
}

// Page limits query results.
type Page struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Clean normalizes the page bounds.
func (p *Page) Clean() {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	} else if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
