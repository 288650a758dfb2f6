package sqlxrepos

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type executor interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type baseRepository struct {
	db *sqlx.DB
}

// getExec returns the transaction passed by a service, or the DB.
func (repo baseRepository) getExec(svcExec []core.DBExecutor) executor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		switch exec := svcExec[0].(type) {
		case *sqlx.Tx:
			return exec
		case *sql.Tx:
			return &sqlx.Tx{Tx: exec, Mapper: repo.db.Mapper}
		}
	}
	return repo.db
}

// trapNoRowsErr maps the "no rows" error to notFoundErr.
func trapNoRowsErr(err, notFoundErr error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFoundErr
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// whereClause builds a WHERE clause; conditions use "?" placeholders which become $n.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, "("+cond+")")
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// suffix returns the ORDER BY, LIMIT & OFFSET clauses; the page args are appended to the where args.
func (w *whereClause) suffix(ordering []core.DBOrdering, defaultOrder string, page *core.Page) string {
	var sb strings.Builder

	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	if len(orderList) == 0 && defaultOrder != "" {
		orderList = append(orderList, defaultOrder)
	}
	if len(orderList) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderList, ", "))
	}

	if page != nil {
		if page.Limit > 0 {
			w.args = append(w.args, page.Limit)
			sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(w.args)))
		}
		if page.Offset > 0 {
			w.args = append(w.args, page.Offset)
			sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(w.args)))
		}
	}
	return sb.String()
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
