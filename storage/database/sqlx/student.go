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
	"github.com/trezcool/campus/core/student"
)

const studentColumns = `id, user_id, lrn, first_name, middle_name, last_name, birth_date, sex, address, grade_level, created_at, updated_at`

// guardians are aggregated in the same query
const studentSelect = `SELECT s.id, s.user_id, s.lrn, s.first_name, s.middle_name, s.last_name, s.birth_date, s.sex,
	s.address, s.grade_level, s.created_at, s.updated_at,
	COALESCE((SELECT ARRAY_AGG(g.guardian_id::text) FROM student_guardian g WHERE g.student_id = s.id), '{}') AS guardian_ids
	FROM student s`

type studentRow struct {
	ID          string         `db:"id"`
	UserID      null.String    `db:"user_id"`
	LRN         string         `db:"lrn"`
	FirstName   string         `db:"first_name"`
	MiddleName  string         `db:"middle_name"`
	LastName    string         `db:"last_name"`
	BirthDate   null.Time      `db:"birth_date"`
	Sex         string         `db:"sex"`
	Address     string         `db:"address"`
	GradeLevel  int            `db:"grade_level"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	GuardianIDs pq.StringArray `db:"guardian_ids"`
}

func (row studentRow) unpack() student.Student {
	guardians := []string(row.GuardianIDs)
	if guardians == nil {
		guardians = []string{}
	}
	st := student.Student{
		ID:          row.ID,
		UserID:      row.UserID.String,
		LRN:         row.LRN,
		FirstName:   row.FirstName,
		MiddleName:  row.MiddleName,
		LastName:    row.LastName,
		Sex:         row.Sex,
		Address:     row.Address,
		GradeLevel:  row.GradeLevel,
		GuardianIDs: guardians,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if row.BirthDate.Valid {
		st.BirthDate = student.FormatDate(row.BirthDate.Time)
	}
	return st
}

func studentArgs(st student.Student) []interface{} {
	return []interface{}{
		st.ID,
		null.NewString(st.UserID, st.UserID != ""),
		st.LRN,
		st.FirstName,
		st.MiddleName,
		st.LastName,
		null.NewString(st.BirthDate, st.BirthDate != ""),
		st.Sex,
		st.Address,
		st.GradeLevel,
		st.CreatedAt.UTC(),
		st.UpdatedAt.UTC(),
	}
}

type studentRepository struct {
	baseRepository
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sqlx.DB) *studentRepository {
	return &studentRepository{baseRepository{db: db}}
}

func (repo studentRepository) selectStudents(ctx context.Context, exec executor, q string, args ...interface{}) ([]student.Student, error) {
	var rows []studentRow
	if err := sqlx.SelectContext(ctx, exec, &rows, q, args...); err != nil {
		return nil, err
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.unpack())
	}
	return students, nil
}

func (repo studentRepository) CheckUniqueness(ctx context.Context, lrn, userID, excludedID string, exec ...core.DBExecutor) error {
	var rows []studentRow
	q := studentSelect + ` WHERE (s.lrn = $1 OR s.user_id::text = $2) AND s.id::text <> $3 LIMIT 2`
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, lrn, userID, excludedID); err != nil {
		return errors.Wrap(err, "checking student uniqueness")
	}
	for _, row := range rows {
		if row.LRN == lrn {
			return student.ErrLRNExists
		}
		if userID != "" && row.UserID.String == userID {
			return student.ErrUserLinked
		}
	}
	return nil
}

func (repo studentRepository) CreateStudent(ctx context.Context, st student.Student, exec ...core.DBExecutor) (student.Student, error) {
	st.ID = uuid.New().String()
	q := `INSERT INTO student (` + studentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, studentArgs(st)...); err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, student.ErrLRNExists
		}
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	st.GuardianIDs = []string{}
	return st, nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, st student.Student, exec ...core.DBExecutor) (student.Student, error) {
	q := `UPDATE student SET user_id = $2, lrn = $3, first_name = $4, middle_name = $5, last_name = $6, birth_date = $7,
		sex = $8, address = $9, grade_level = $10, created_at = $11, updated_at = $12 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, studentArgs(st)...)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return student.Student{}, student.ErrNotFound
	}
	return st, nil
}

func (repo studentRepository) GetStudent(ctx context.Context, filter student.GetFilter, exec ...core.DBExecutor) (student.Student, error) {
	var (
		cond string
		arg  interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return student.Student{}, student.ErrNotFound
		}
		cond, arg = "s.id = $1", filter.ID
	case filter.UserID != "":
		cond, arg = "s.user_id::text = $1", filter.UserID
	case filter.LRN != "":
		cond, arg = "s.lrn = $1", filter.LRN
	default:
		return student.Student{}, student.ErrNotFound
	}

	var row studentRow
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, studentSelect+` WHERE `+cond, arg); err != nil {
		return student.Student{}, trapNoRowsErr(err, student.ErrNotFound, "finding student")
	}
	return row.unpack(), nil
}

func (repo studentRepository) GetStudentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]student.Student, error) {
	students, err := repo.selectStudents(ctx, repo.getExec(exec), studentSelect+` WHERE s.id::text = ANY($1) ORDER BY s.created_at`, pq.Array(ids))
	return students, errors.Wrap(err, "finding students by ID")
}

func (repo studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]student.Student, error) {
	where := new(whereClause)
	if filter != nil {
		if filter.Search != "" {
			val := likePattern(filter.Search)
			where.add("s.first_name || ' ' || s.middle_name || ' ' || s.last_name ILIKE ? OR s.first_name || ' ' || s.last_name ILIKE ? OR s.lrn LIKE ?",
				val, val, filter.Search+"%")
		}
		if filter.GradeLevel != nil {
			where.add("s.grade_level = ?", *filter.GradeLevel)
		}
		if filter.GuardianID != "" {
			where.add("EXISTS (SELECT 1 FROM student_guardian g WHERE g.student_id = s.id AND g.guardian_id::text = ?)", filter.GuardianID)
		}
	}
	q := studentSelect + where.String() + where.suffix(ordering, "created_at ASC", nil)
	students, err := repo.selectStudents(ctx, repo.getExec(exec), q, where.args...)
	return students, errors.Wrap(err, "querying students")
}

func (repo studentRepository) SetGuardians(ctx context.Context, studentID string, guardianIDs []string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := exe.ExecContext(ctx, `DELETE FROM student_guardian WHERE student_id = $1`, studentID); err != nil {
		return errors.Wrap(err, "clearing guardians")
	}
	if len(guardianIDs) == 0 {
		return nil
	}
	q := `INSERT INTO student_guardian (student_id, guardian_id) SELECT $1, UNNEST($2::uuid[]) ON CONFLICT DO NOTHING`
	_, err := exe.ExecContext(ctx, q, studentID, pq.Array(guardianIDs))
	return errors.Wrap(err, "setting guardians")
}

func (repo studentRepository) DeleteStudent(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM student WHERE id::text = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting student")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return student.ErrNotFound
	}
	return nil
}
