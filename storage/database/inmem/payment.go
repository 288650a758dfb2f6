package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/payment"
)

var paymentComparators = comparators[payment.Payment]{
	"amount":     func(a, b payment.Payment) int { return compareInt64(a.Amount, b.Amount) },
	"method":     func(a, b payment.Payment) int { return strings.Compare(a.Method, b.Method) },
	"status":     func(a, b payment.Payment) int { return strings.Compare(a.Status, b.Status) },
	"paid_at":    func(a, b payment.Payment) int { return a.PaidAt.Compare(b.PaidAt) },
	"created_at": func(a, b payment.Payment) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

type paymentRepository struct {
	db *paymentTable
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) *paymentRepository {
	return &paymentRepository{db: db.payment}
}

func (repo *paymentRepository) CreatePayment(_ context.Context, p payment.Payment, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = uuid.New().String()
	row := p
	repo.db.table[p.ID] = &row
	return p, nil
}

func (repo *paymentRepository) TransitionPayment(_ context.Context, p payment.Payment, from string, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[p.ID]
	if !ok {
		return payment.Payment{}, payment.ErrNotFound
	}
	if stored.Status != from {
		return payment.Payment{}, payment.ErrStatusChanged
	}
	row := p
	repo.db.table[p.ID] = &row
	return p, nil
}

func (repo *paymentRepository) GetPayment(_ context.Context, filter payment.GetFilter, _ ...core.DBExecutor) (payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if p, ok := repo.db.table[filter.ID]; ok {
			return *p, nil
		}
		return payment.Payment{}, payment.ErrNotFound
	}
	if filter.ExternalID != "" {
		for _, p := range repo.db.table {
			if p.ExternalID == filter.ExternalID {
				return *p, nil
			}
		}
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (repo *paymentRepository) QueryPayments(_ context.Context, filter *payment.QueryFilter, ordering []core.DBOrdering, page core.Page, _ ...core.DBExecutor) ([]payment.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]payment.Payment, 0, len(repo.db.table))
	for _, p := range repo.db.table {
		if filter != nil {
			if filter.EnrollmentID != "" && p.EnrollmentID != filter.EnrollmentID {
				continue
			}
			if filter.Method != "" && p.Method != filter.Method {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(p.Status, filter.Statuses) {
				continue
			}
			if !filter.PaidFrom.IsZero() && (p.PaidAt.IsZero() || p.PaidAt.Before(filter.PaidFrom)) {
				continue
			}
			if !filter.PaidTo.IsZero() && (p.PaidAt.IsZero() || p.PaidAt.After(filter.PaidTo)) {
				continue
			}
			if filter.Restricted && !core.StringInSlice(p.EnrollmentID, filter.EnrollmentIDs) {
				continue
			}
		}
		rows = append(rows, *p)
	}
	orderRows(rows, nil, paymentComparators)
	orderRows(rows, ordering, paymentComparators)
	return paginate(rows, page), nil
}

func (repo *paymentRepository) SumSettled(_ context.Context, enrollmentID string, _ ...core.DBExecutor) (int64, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var total int64
	for _, p := range repo.db.table {
		if p.EnrollmentID == enrollmentID && p.IsSettled() {
			total += p.Amount
		}
	}
	return total, nil
}
