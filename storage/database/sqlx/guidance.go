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
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/student"
)

const guidanceColumns = `id, student_id, kind, category, description, severity, status, reported_by, assigned_to,
	action_taken, incident_date, created_at, updated_at`

// severityRank sorts severities from low to high instead of alphabetically.
const severityRank = `CASE severity WHEN 'low' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

type guidanceRow struct {
	ID           string      `db:"id"`
	StudentID    string      `db:"student_id"`
	Kind         string      `db:"kind"`
	Category     string      `db:"category"`
	Description  string      `db:"description"`
	Severity     string      `db:"severity"`
	Status       string      `db:"status"`
	ReportedBy   null.String `db:"reported_by"`
	AssignedTo   null.String `db:"assigned_to"`
	ActionTaken  string      `db:"action_taken"`
	IncidentDate time.Time   `db:"incident_date"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row guidanceRow) unpack() guidance.Record {
	return guidance.Record{
		ID:           row.ID,
		StudentID:    row.StudentID,
		Kind:         row.Kind,
		Category:     row.Category,
		Description:  row.Description,
		Severity:     row.Severity,
		Status:       row.Status,
		ReportedBy:   row.ReportedBy.String,
		AssignedTo:   row.AssignedTo.String,
		ActionTaken:  row.ActionTaken,
		IncidentDate: student.FormatDate(row.IncidentDate),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

func guidanceArgs(rec guidance.Record) []interface{} {
	return []interface{}{
		rec.ID,
		rec.StudentID,
		rec.Kind,
		rec.Category,
		rec.Description,
		rec.Severity,
		rec.Status,
		null.NewString(rec.ReportedBy, rec.ReportedBy != ""),
		null.NewString(rec.AssignedTo, rec.AssignedTo != ""),
		rec.ActionTaken,
		rec.IncidentDate,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	}
}

type guidanceRepository struct {
	baseRepository
}

var _ guidance.Repository = (*guidanceRepository)(nil) // interface compliance check

func NewGuidanceRepository(db *sqlx.DB) *guidanceRepository {
	return &guidanceRepository{baseRepository{db: db}}
}

func (repo guidanceRepository) CreateRecord(ctx context.Context, rec guidance.Record, exec ...core.DBExecutor) (guidance.Record, error) {
	rec.ID = uuid.New().String()
	rec.Notes = nil
	q := `INSERT INTO guidance_record (` + guidanceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, guidanceArgs(rec)...); err != nil {
		return guidance.Record{}, errors.Wrap(err, "inserting guidance record")
	}
	return rec, nil
}

func (repo guidanceRepository) UpdateRecord(ctx context.Context, rec guidance.Record, exec ...core.DBExecutor) (guidance.Record, error) {
	q := `UPDATE guidance_record SET student_id = $2, kind = $3, category = $4, description = $5, severity = $6,
		status = $7, reported_by = $8, assigned_to = $9, action_taken = $10, incident_date = $11, created_at = $12,
		updated_at = $13 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, guidanceArgs(rec)...)
	if err != nil {
		return guidance.Record{}, errors.Wrap(err, "updating guidance record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return guidance.Record{}, guidance.ErrNotFound
	}
	return rec, nil
}

func (repo guidanceRepository) GetRecord(ctx context.Context, id string, exec ...core.DBExecutor) (guidance.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return guidance.Record{}, guidance.ErrNotFound
	}
	var row guidanceRow
	q := `SELECT ` + guidanceColumns + ` FROM guidance_record WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q, id); err != nil {
		return guidance.Record{}, trapNoRowsErr(err, guidance.ErrNotFound, "finding guidance record")
	}
	return row.unpack(), nil
}

func (repo guidanceRepository) QueryRecords(ctx context.Context, filter *guidance.QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]guidance.Record, error) {
	where := new(whereClause)
	if filter != nil {
		if filter.StudentID != "" {
			where.add("student_id::text = ?", filter.StudentID)
		}
		if filter.Kind != "" {
			where.add("kind = ?", filter.Kind)
		}
		if filter.Severity != "" {
			where.add("severity = ?", filter.Severity)
		}
		if len(filter.Statuses) > 0 {
			where.add("status = ANY(?)", pq.Array(filter.Statuses))
		}
		if filter.AssignedTo != "" {
			where.add("assigned_to::text = ?", filter.AssignedTo)
		}
		if filter.ReportedBy != "" {
			where.add("reported_by::text = ?", filter.ReportedBy)
		}
		if filter.Restricted {
			where.add("student_id::text = ANY(?)", pq.Array(filter.StudentIDs))
		}
	}

	orders := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if ord.Field == "severity" {
			ord.Field = severityRank
		}
		orders = append(orders, ord)
	}

	var rows []guidanceRow
	q := `SELECT ` + guidanceColumns + ` FROM guidance_record` + where.String() + where.suffix(orders, "created_at ASC", &page)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying guidance records")
	}
	records := make([]guidance.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.unpack())
	}
	return records, nil
}

type noteRow struct {
	ID        string      `db:"id"`
	RecordID  string      `db:"record_id"`
	AuthorID  null.String `db:"author_id"`
	Body      string      `db:"body"`
	CreatedAt time.Time   `db:"created_at"`
}

func (repo guidanceRepository) CreateNote(ctx context.Context, note guidance.Note, exec ...core.DBExecutor) (guidance.Note, error) {
	note.ID = uuid.New().String()
	q := `INSERT INTO guidance_note (id, record_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := repo.getExec(exec).ExecContext(ctx, q,
		note.ID, note.RecordID, null.NewString(note.AuthorID, note.AuthorID != ""), note.Body, note.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return guidance.Note{}, guidance.ErrNotFound
		}
		return guidance.Note{}, errors.Wrap(err, "inserting guidance note")
	}
	return note, nil
}

func (repo guidanceRepository) Notes(ctx context.Context, recordID string, exec ...core.DBExecutor) ([]guidance.Note, error) {
	var rows []noteRow
	q := `SELECT id, record_id, author_id, body, created_at FROM guidance_note WHERE record_id::text = $1 ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, recordID); err != nil {
		return nil, errors.Wrap(err, "querying guidance notes")
	}
	notes := make([]guidance.Note, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, guidance.Note{
			ID:        row.ID,
			RecordID:  row.RecordID,
			AuthorID:  row.AuthorID.String,
			Body:      row.Body,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return notes, nil
}
