package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/payment"
)

const paymentColumns = `id, enrollment_id, amount, method, reference, status, received_by, external_id, checkout_url,
	paid_at, created_at, updated_at`

type paymentRow struct {
	ID           string      `db:"id"`
	EnrollmentID string      `db:"enrollment_id"`
	Amount       int64       `db:"amount"`
	Method       string      `db:"method"`
	Reference    string      `db:"reference"`
	Status       string      `db:"status"`
	ReceivedBy   null.String `db:"received_by"`
	ExternalID   null.String `db:"external_id"`
	CheckoutURL  string      `db:"checkout_url"`
	PaidAt       null.Time   `db:"paid_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row paymentRow) unpack() payment.Payment {
	p := payment.Payment{
		ID:           row.ID,
		EnrollmentID: row.EnrollmentID,
		Amount:       row.Amount,
		Method:       row.Method,
		Reference:    row.Reference,
		Status:       row.Status,
		ReceivedBy:   row.ReceivedBy.String,
		ExternalID:   row.ExternalID.String,
		CheckoutURL:  row.CheckoutURL,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.PaidAt.Valid {
		p.PaidAt = row.PaidAt.Time.UTC()
	}
	return p
}

func paymentArgs(p payment.Payment) []interface{} {
	return []interface{}{
		p.ID,
		p.EnrollmentID,
		p.Amount,
		p.Method,
		p.Reference,
		p.Status,
		null.NewString(p.ReceivedBy, p.ReceivedBy != ""),
		null.NewString(p.ExternalID, p.ExternalID != ""),
		p.CheckoutURL,
		null.NewTime(p.PaidAt.UTC(), !p.PaidAt.IsZero()),
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	}
}

type paymentRepository struct {
	baseRepository
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *sqlx.DB) *paymentRepository {
	return &paymentRepository{baseRepository{db: db}}
}

func (repo paymentRepository) CreatePayment(ctx context.Context, p payment.Payment, exec ...core.DBExecutor) (payment.Payment, error) {
	p.ID = uuid.New().String()
	q := `INSERT INTO payment (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, paymentArgs(p)...); err != nil {
		return payment.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo paymentRepository) TransitionPayment(ctx context.Context, p payment.Payment, from string, exec ...core.DBExecutor) (payment.Payment, error) {
	q := `UPDATE payment SET enrollment_id = $2, amount = $3, method = $4, reference = $5, status = $6, received_by = $7,
		external_id = $8, checkout_url = $9, paid_at = $10, created_at = $11, updated_at = $12 WHERE id = $1 AND status = $13`
	res, err := repo.getExec(exec).ExecContext(ctx, q, append(paymentArgs(p), from)...)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "updating payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.Payment{}, payment.ErrStatusChanged
	}
	return p, nil
}

func (repo paymentRepository) GetPayment(ctx context.Context, filter payment.GetFilter, exec ...core.DBExecutor) (payment.Payment, error) {
	var (
		cond string
		arg  interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return payment.Payment{}, payment.ErrNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.ExternalID != "":
		cond, arg = "external_id = $1", filter.ExternalID
	default:
		return payment.Payment{}, payment.ErrNotFound
	}

	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payment WHERE ` + cond
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q, arg); err != nil {
		return payment.Payment{}, trapNoRowsErr(err, payment.ErrNotFound, "finding payment")
	}
	return row.unpack(), nil
}

func (repo paymentRepository) QueryPayments(ctx context.Context, filter *payment.QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]payment.Payment, error) {
	where := new(whereClause)
	if filter != nil {
		if filter.EnrollmentID != "" {
			where.add("enrollment_id::text = ?", filter.EnrollmentID)
		}
		if filter.Method != "" {
			where.add("method = ?", filter.Method)
		}
		if len(filter.Statuses) > 0 {
			where.add("status = ANY(?)", pq.Array(filter.Statuses))
		}
		if !filter.PaidFrom.IsZero() {
			where.add("paid_at >= ?", filter.PaidFrom.UTC())
		}
		if !filter.PaidTo.IsZero() {
			where.add("paid_at <= ?", filter.PaidTo.UTC())
		}
		if filter.Restricted {
			where.add("enrollment_id::text = ANY(?)", pq.Array(filter.EnrollmentIDs))
		}
	}

	var rows []paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payment` + where.String() + where.suffix(ordering, "created_at ASC", &page)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	payments := make([]payment.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, row.unpack())
	}
	return payments, nil
}

func (repo paymentRepository) SumSettled(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) (int64, error) {
	var total int64
	q := `SELECT COALESCE(SUM(amount), 0) FROM payment WHERE enrollment_id::text = $1 AND status = $2`
	err := sqlx.GetContext(ctx, repo.getExec(exec), &total, q, enrollmentID, payment.StatusSettled)
	return total, errors.Wrap(err, "summing settled payments")
}
