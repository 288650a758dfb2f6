package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/enrollment"
)

const enrollmentColumns = `id, ref_code, student_id, school_year, grade_level, section_id, status, payment_status,
	tuition_fee, amount_paid, remarks, submitted_by, reviewed_by, created_at, updated_at`

type enrollmentRow struct {
	ID            string      `db:"id"`
	RefCode       string      `db:"ref_code"`
	StudentID     string      `db:"student_id"`
	SchoolYear    string      `db:"school_year"`
	GradeLevel    int         `db:"grade_level"`
	SectionID     null.String `db:"section_id"`
	Status        string      `db:"status"`
	PaymentStatus string      `db:"payment_status"`
	TuitionFee    int64       `db:"tuition_fee"`
	AmountPaid    int64       `db:"amount_paid"`
	Remarks       string      `db:"remarks"`
	SubmittedBy   null.String `db:"submitted_by"`
	ReviewedBy    null.String `db:"reviewed_by"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

func (row enrollmentRow) unpack() enrollment.Enrollment {
	return enrollment.Enrollment{
		ID:            row.ID,
		RefCode:       row.RefCode,
		StudentID:     row.StudentID,
		SchoolYear:    row.SchoolYear,
		GradeLevel:    row.GradeLevel,
		SectionID:     row.SectionID.String,
		Status:        row.Status,
		PaymentStatus: row.PaymentStatus,
		TuitionFee:    row.TuitionFee,
		AmountPaid:    row.AmountPaid,
		Remarks:       row.Remarks,
		SubmittedBy:   row.SubmittedBy.String,
		ReviewedBy:    row.ReviewedBy.String,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func enrollmentArgs(e enrollment.Enrollment) []interface{} {
	return []interface{}{
		e.ID,
		e.RefCode,
		e.StudentID,
		e.SchoolYear,
		e.GradeLevel,
		null.NewString(e.SectionID, e.SectionID != ""),
		e.Status,
		e.PaymentStatus,
		e.TuitionFee,
		e.AmountPaid,
		e.Remarks,
		null.NewString(e.SubmittedBy, e.SubmittedBy != ""),
		null.NewString(e.ReviewedBy, e.ReviewedBy != ""),
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	}
}

type enrollmentRepository struct {
	baseRepository
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *sqlx.DB) *enrollmentRepository {
	return &enrollmentRepository{baseRepository{db: db}}
}

func (repo enrollmentRepository) NextRefSeq(ctx context.Context, exec ...core.DBExecutor) (int64, error) {
	var seq int64
	err := sqlx.GetContext(ctx, repo.getExec(exec), &seq, `SELECT nextval('enrollment_ref_seq')`)
	return seq, errors.Wrap(err, "getting next reference sequence")
}

func (repo enrollmentRepository) HasActiveEnrollment(ctx context.Context, studentID, schoolYear string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM enrollment WHERE student_id::text = $1 AND school_year = $2 AND status = ANY($3))`
	err := sqlx.GetContext(ctx, repo.getExec(exec), &exists, q, studentID, schoolYear, pq.Array(enrollment.ActiveStatuses))
	return exists, errors.Wrap(err, "checking active enrollment")
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	e.ID = uuid.New().String()
	q := `INSERT INTO enrollment (` + enrollmentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, enrollmentArgs(e)...); err != nil {
		// enrollment_active_uniq
		if isUniqueViolation(err) {
			return enrollment.Enrollment{}, core.NewConflictError(enrollment.ErrAlreadyEnrolled)
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	q := `UPDATE enrollment SET ref_code = $2, student_id = $3, school_year = $4, grade_level = $5, section_id = $6,
		status = $7, payment_status = $8, tuition_fee = $9, amount_paid = $10, remarks = $11, submitted_by = $12,
		reviewed_by = $13, created_at = $14, updated_at = $15 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, enrollmentArgs(e)...)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return e, nil
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, filter enrollment.GetFilter, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	var (
		cond string
		arg  interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return enrollment.Enrollment{}, enrollment.ErrNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.RefCode != "":
		cond, arg = "ref_code = $1", strings.ToUpper(filter.RefCode)
	default:
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}

	var row enrollmentRow
	q := `SELECT ` + enrollmentColumns + ` FROM enrollment WHERE ` + cond
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q, arg); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return row.unpack(), nil
}

func (repo enrollmentRepository) QueryEnrollments(ctx context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	where := new(whereClause)
	if filter != nil {
		if filter.Search != "" {
			where.add("ref_code ILIKE ?", likePattern(filter.Search))
		}
		if filter.SchoolYear != "" {
			where.add("school_year = ?", filter.SchoolYear)
		}
		if len(filter.Statuses) > 0 {
			where.add("status = ANY(?)", pq.Array(filter.Statuses))
		}
		if filter.PaymentStatus != "" {
			where.add("payment_status = ?", filter.PaymentStatus)
		}
		if filter.GradeLevel != nil {
			where.add("grade_level = ?", *filter.GradeLevel)
		}
		if filter.SectionID != "" {
			where.add("section_id::text = ?", filter.SectionID)
		}
		if filter.StudentID != "" {
			where.add("student_id::text = ?", filter.StudentID)
		}
		if filter.Restricted {
			where.add("student_id::text = ANY(?)", pq.Array(filter.StudentIDs))
		}
	}

	var rows []enrollmentRow
	q := `SELECT ` + enrollmentColumns + ` FROM enrollment` + where.String() + where.suffix(ordering, "created_at ASC", &page)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrollments = append(enrollments, row.unpack())
	}
	return enrollments, nil
}

func (repo enrollmentRepository) CountActiveInSection(ctx context.Context, sectionID string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	q := `SELECT COUNT(*) FROM enrollment WHERE section_id::text = $1 AND status = ANY($2)`
	err := sqlx.GetContext(ctx, repo.getExec(exec), &cnt, q, sectionID, pq.Array(enrollment.ActiveStatuses))
	return cnt, errors.Wrap(err, "counting section enrollments")
}
