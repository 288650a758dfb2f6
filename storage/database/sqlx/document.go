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
	"github.com/trezcool/campus/core/document"
)

const documentColumns = `id, student_id, enrollment_id, kind, filename, content_type, size, storage_key, status, remarks,
	uploaded_by, verified_by, deleted_at, created_at, updated_at`

type documentRow struct {
	ID           string      `db:"id"`
	StudentID    string      `db:"student_id"`
	EnrollmentID null.String `db:"enrollment_id"`
	Kind         string      `db:"kind"`
	Filename     string      `db:"filename"`
	ContentType  string      `db:"content_type"`
	Size         int64       `db:"size"`
	StorageKey   string      `db:"storage_key"`
	Status       string      `db:"status"`
	Remarks      string      `db:"remarks"`
	UploadedBy   null.String `db:"uploaded_by"`
	VerifiedBy   null.String `db:"verified_by"`
	DeletedAt    null.Time   `db:"deleted_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row documentRow) unpack() document.Document {
	doc := document.Document{
		ID:           row.ID,
		StudentID:    row.StudentID,
		EnrollmentID: row.EnrollmentID.String,
		Kind:         row.Kind,
		Filename:     row.Filename,
		ContentType:  row.ContentType,
		Size:         row.Size,
		StorageKey:   row.StorageKey,
		Status:       row.Status,
		Remarks:      row.Remarks,
		UploadedBy:   row.UploadedBy.String,
		VerifiedBy:   row.VerifiedBy.String,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time.UTC()
		doc.DeletedAt = &t
	}
	return doc
}

func documentArgs(doc document.Document) []interface{} {
	return []interface{}{
		doc.ID,
		doc.StudentID,
		null.NewString(doc.EnrollmentID, doc.EnrollmentID != ""),
		doc.Kind,
		doc.Filename,
		doc.ContentType,
		doc.Size,
		doc.StorageKey,
		doc.Status,
		doc.Remarks,
		null.NewString(doc.UploadedBy, doc.UploadedBy != ""),
		null.NewString(doc.VerifiedBy, doc.VerifiedBy != ""),
		null.TimeFromPtr(doc.DeletedAt),
		doc.CreatedAt.UTC(),
		doc.UpdatedAt.UTC(),
	}
}

type documentRepository struct {
	baseRepository
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *sqlx.DB) *documentRepository {
	return &documentRepository{baseRepository{db: db}}
}

func (repo documentRepository) CreateDocument(ctx context.Context, doc document.Document, exec ...core.DBExecutor) (document.Document, error) {
	doc.ID = uuid.New().String()
	q := `INSERT INTO document (` + documentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := repo.getExec(exec).ExecContext(ctx, q, documentArgs(doc)...); err != nil {
		return document.Document{}, errors.Wrap(err, "inserting document")
	}
	return doc, nil
}

func (repo documentRepository) UpdateDocument(ctx context.Context, doc document.Document, exec ...core.DBExecutor) (document.Document, error) {
	q := `UPDATE document SET student_id = $2, enrollment_id = $3, kind = $4, filename = $5, content_type = $6, size = $7,
		storage_key = $8, status = $9, remarks = $10, uploaded_by = $11, verified_by = $12, deleted_at = $13,
		created_at = $14, updated_at = $15 WHERE id = $1`
	res, err := repo.getExec(exec).ExecContext(ctx, q, documentArgs(doc)...)
	if err != nil {
		return document.Document{}, errors.Wrap(err, "updating document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return document.Document{}, document.ErrNotFound
	}
	return doc, nil
}

func (repo documentRepository) GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (document.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return document.Document{}, document.ErrNotFound
	}
	var row documentRow
	q := `SELECT ` + documentColumns + ` FROM document WHERE id = $1 AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, repo.getExec(exec), &row, q, id); err != nil {
		return document.Document{}, trapNoRowsErr(err, document.ErrNotFound, "finding document")
	}
	return row.unpack(), nil
}

func (repo documentRepository) QueryDocuments(ctx context.Context, filter *document.QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]document.Document, error) {
	if filter == nil {
		filter = &document.QueryFilter{}
	}

	where := new(whereClause)
	if filter.DeletedBefore.IsZero() {
		where.add("deleted_at IS NULL")
	} else {
		where.add("deleted_at < ?", filter.DeletedBefore.UTC())
	}
	if filter.StudentID != "" {
		where.add("student_id::text = ?", filter.StudentID)
	}
	if filter.EnrollmentID != "" {
		where.add("enrollment_id::text = ?", filter.EnrollmentID)
	}
	if filter.Kind != "" {
		where.add("kind = ?", filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		where.add("status = ANY(?)", pq.Array(filter.Statuses))
	}
	if filter.Restricted {
		where.add("student_id::text = ANY(?)", pq.Array(filter.StudentIDs))
	}

	var rows []documentRow
	q := `SELECT ` + documentColumns + ` FROM document` + where.String() + where.suffix(ordering, "created_at ASC", &page)
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, where.args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.unpack())
	}
	return docs, nil
}

func (repo documentRepository) DeleteDocumentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM document WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting documents")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted documents")
}
