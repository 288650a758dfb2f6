package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/section"
)

const sectionColumns = `id, name, grade_level, school_year, adviser_id, room, capacity, created_at, updated_at`

const sectionSelect = `SELECT sec.id, sec.name, sec.grade_level, sec.school_year, sec.adviser_id, sec.room, sec.capacity,
	sec.created_at, sec.updated_at,
	(SELECT COUNT(*) FROM enrollment e WHERE e.section_id = sec.id AND e.status IN ('pending', 'approved', 'enrolled')) AS assigned
	FROM section sec`

type sectionRow struct {
	ID         string      `db:"id"`
	Name       string      `db:"name"`
	GradeLevel int         `db:"grade_level"`
	SchoolYear string      `db:"school_year"`
	AdviserID  null.String `db:"adviser_id"`
	Room       string      `db:"room"`
	Capacity   int         `db:"capacity"`
	Assigned   int         `db:"assigned"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

func (row sectionRow) unpack() section.Section {
	return section.Section{
		ID:         row.ID,
		Name:       row.Name,
		GradeLevel: row.GradeLevel,
		SchoolYear: row.SchoolYear,
		AdviserID:  row.AdviserID.String,
		Room:       row.Room,
		Capacity:   row.Capacity,
		Assigned:   row.Assigned,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

func sectionArgs(sec section.Section) []interface{} {
	return []interface{}{
		sec.ID,
		sec.Name,
		sec.GradeLevel,
		sec.SchoolYear,
		null.NewString(sec.AdviserID, sec.AdviserID != ""),
		sec.Room,
		sec.Capacity,
		sec.CreatedAt.UTC(),
		sec.UpdatedAt.UTC(),
	}
}

type sectionRepository struct {
	baseRepository
}

var _ section.Repository = (*sectionRepository)(nil) // interface compliance check

func NewSectionRepository(db *sqlx.DB) *sectionRepository {
	return &sectionRepository{baseRepository{db: db}}
}

func (repo sectionRepository) CheckNameUniqueness(ctx context.Context, name, schoolYear, excludedID string, exec ...core.DBExecutor) error {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM section WHERE LOWER(name) = LOWER($1) AND school_year = $2 AND id::text <> $3)`
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &exists, q, name, schoolYear, excludedID); err != nil {
		return errors.Wrap(err, "checking section name uniqueness")
	}
	if exists {
		return section.ErrNameExists
	}
	return nil
}

func (repo sectionRepository) CreateSection(ctx context.Context, sec section.Section, exec ...core.DBExecutor) (section.Section, error) {
	sec.ID = uuid.New().String()
	sec.Assigned = 0
	q := `INSERT INTO section (` + sectionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, sectionArgs(sec)...); err != nil {
		if isUniqueViolation(err) {
			return section.Section{}, section.ErrNameExists
		}
		return section.Section{}, errors.Wrap(err, "inserting section")
	}
	return sec, nil
}

func (repo sectionRepository) UpdateSection(ctx context.Context, sec section.Section, exec ...core.DBExecutor) (section.Section, error) {
	q := `UPDATE section SET name = $2, grade_level = $3, school_year = $4, adviser_id = $5, room = $6, capacity = $7,
		created_at = $8, updated_at = $9 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, sectionArgs(sec)...)
	if err != nil {
		if isUniqueViolation(err) {
			return section.Section{}, section.ErrNameExists
		}
		return section.Section{}, errors.Wrap(err, "updating section")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return section.Section{}, section.ErrNotFound
	}
	return sec, nil
}

func (repo sectionRepository) getSection(ctx context.Context, id, lock string, exec []core.DBExecutor) (section.Section, error) {
	if _, err := uuid.Parse(id); err != nil {
		return section.Section{}, section.ErrNotFound
	}
	var row sectionRow
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, sectionSelect+` WHERE sec.id = $1`+lock, id); err != nil {
		return section.Section{}, trapNoRowsErr(err, section.ErrNotFound, "finding section")
	}
	return row.unpack(), nil
}

func (repo sectionRepository) GetSection(ctx context.Context, id string, exec ...core.DBExecutor) (section.Section, error) {
	return repo.getSection(ctx, id, "", exec)
}

// LockSection must run inside a transaction for the row lock to outlive the query.
func (repo sectionRepository) LockSection(ctx context.Context, id string, exec ...core.DBExecutor) (section.Section, error) {
	return repo.getSection(ctx, id, " FOR UPDATE OF sec", exec)
}

func (repo sectionRepository) QuerySections(ctx context.Context, filter *section.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]section.Section, error) {
	where := new(whereClause)
	if filter != nil {
		if filter.Search != "" {
			val := likePattern(filter.Search)
			where.add("sec.name ILIKE ? OR sec.room ILIKE ?", val, val)
		}
		if filter.SchoolYear != "" {
			where.add("sec.school_year = ?", filter.SchoolYear)
		}
		if filter.GradeLevel != nil {
			where.add("sec.grade_level = ?", *filter.GradeLevel)
		}
		if filter.AdviserID != "" {
			where.add("sec.adviser_id::text = ?", filter.AdviserID)
		}
	}

	var rows []sectionRow
	q := sectionSelect + where.String() + where.suffix(ordering, "created_at ASC", nil)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying sections")
	}
	sections := make([]section.Section, 0, len(rows))
	for _, row := range rows {
		sections = append(sections, row.unpack())
	}
	return sections, nil
}

func (repo sectionRepository) Roster(ctx context.Context, id string, exec ...core.DBExecutor) ([]section.RosterEntry, error) {
	type rosterRow struct {
		EnrollmentID string      `db:"enrollment_id"`
		StudentID    string      `db:"student_id"`
		LRN          null.String `db:"lrn"`
		FirstName    null.String `db:"first_name"`
		LastName     null.String `db:"last_name"`
		Status       string      `db:"status"`
	}

	q := `SELECT e.id AS enrollment_id, e.student_id, s.lrn, s.first_name, s.last_name, e.status
		FROM enrollment e LEFT JOIN student s ON s.id = e.student_id
		WHERE e.section_id::text = $1 AND e.status IN ('pending', 'approved', 'enrolled')
		ORDER BY s.last_name, s.first_name`
	var rows []rosterRow
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, id); err != nil {
		return nil, errors.Wrap(err, "querying section roster")
	}
	roster := make([]section.RosterEntry, 0, len(rows))
	for _, row := range rows {
		roster = append(roster, section.RosterEntry{
			EnrollmentID: row.EnrollmentID,
			StudentID:    row.StudentID,
			LRN:          row.LRN.String,
			FirstName:    row.FirstName.String,
			LastName:     row.LastName.String,
			Status:       row.Status,
		})
	}
	return roster, nil
}

func (repo sectionRepository) DeleteSection(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM section WHERE id::text = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting section")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return section.ErrNotFound
	}
	return nil
}
