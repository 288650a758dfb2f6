package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/enrollment"
)

var enrollmentComparators = comparators[enrollment.Enrollment]{
	"ref_code":       func(a, b enrollment.Enrollment) int { return strings.Compare(a.RefCode, b.RefCode) },
	"school_year":    func(a, b enrollment.Enrollment) int { return strings.Compare(a.SchoolYear, b.SchoolYear) },
	"grade_level":    func(a, b enrollment.Enrollment) int { return compareInt(a.GradeLevel, b.GradeLevel) },
	"status":         func(a, b enrollment.Enrollment) int { return strings.Compare(a.Status, b.Status) },
	"payment_status": func(a, b enrollment.Enrollment) int { return strings.Compare(a.PaymentStatus, b.PaymentStatus) },
	"created_at":     func(a, b enrollment.Enrollment) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":     func(a, b enrollment.Enrollment) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type enrollmentRepository struct {
	db *enrollmentTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) *enrollmentRepository {
	return &enrollmentRepository{db: db.enrollment}
}

func (repo *enrollmentRepository) query() []enrollment.Enrollment {
	rows := make([]enrollment.Enrollment, 0, len(repo.db.table))
	for _, e := range repo.db.table {
		rows = append(rows, *e)
	}
	orderRows(rows, nil, enrollmentComparators)
	return rows
}

func (repo *enrollmentRepository) NextRefSeq(_ context.Context, _ ...core.DBExecutor) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.refSeq++
	return repo.db.refSeq, nil
}

func (repo *enrollmentRepository) HasActiveEnrollment(_ context.Context, studentID, schoolYear string, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, e := range repo.db.table {
		if e.StudentID == studentID && e.SchoolYear == schoolYear && e.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if e.IsActive() {
		for _, other := range repo.db.table {
			if other.StudentID == e.StudentID && other.SchoolYear == e.SchoolYear && other.IsActive() {
				return enrollment.Enrollment{}, core.NewConflictError(enrollment.ErrAlreadyEnrolled)
			}
		}
	}

	e.ID = uuid.New().String()
	row := e
	repo.db.table[e.ID] = &row
	return e, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[e.ID]; !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	row := e
	repo.db.table[e.ID] = &row
	return e, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, filter enrollment.GetFilter, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if e, ok := repo.db.table[filter.ID]; ok {
			return *e, nil
		}
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if filter.RefCode != "" {
		for _, e := range repo.db.table {
			if strings.EqualFold(e.RefCode, filter.RefCode) {
				return *e, nil
			}
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering, page core.Page, _ ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := repo.query()
	if filter != nil {
		filtered := make([]enrollment.Enrollment, 0, len(rows))
		for _, e := range rows {
			if filter.Search != "" && !containsFold(e.RefCode, filter.Search) {
				continue
			}
			if filter.SchoolYear != "" && e.SchoolYear != filter.SchoolYear {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(e.Status, filter.Statuses) {
				continue
			}
			if filter.PaymentStatus != "" && e.PaymentStatus != filter.PaymentStatus {
				continue
			}
			if filter.GradeLevel != nil && e.GradeLevel != *filter.GradeLevel {
				continue
			}
			if filter.SectionID != "" && e.SectionID != filter.SectionID {
				continue
			}
			if filter.StudentID != "" && e.StudentID != filter.StudentID {
				continue
			}
			if filter.Restricted && !core.StringInSlice(e.StudentID, filter.StudentIDs) {
				continue
			}
			filtered = append(filtered, e)
		}
		rows = filtered
	}
	orderRows(rows, ordering, enrollmentComparators)
	return paginate(rows, page), nil
}

func (repo *enrollmentRepository) CountActiveInSection(_ context.Context, sectionID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var cnt int
	for _, e := range repo.db.table {
		if e.SectionID == sectionID && e.IsActive() {
			cnt++
		}
	}
	return cnt, nil
}
