package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/document"
)

var documentComparators = comparators[document.Document]{
	"kind":       func(a, b document.Document) int { return strings.Compare(a.Kind, b.Kind) },
	"status":     func(a, b document.Document) int { return strings.Compare(a.Status, b.Status) },
	"filename":   func(a, b document.Document) int { return strings.Compare(a.Filename, b.Filename) },
	"created_at": func(a, b document.Document) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at": func(a, b document.Document) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type documentRepository struct {
	db *documentTable
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *DB) *documentRepository {
	return &documentRepository{db: db.document}
}

func (repo *documentRepository) CreateDocument(_ context.Context, doc document.Document, _ ...core.DBExecutor) (document.Document, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	doc.ID = uuid.New().String()
	row := doc
	repo.db.table[doc.ID] = &row
	return doc, nil
}

func (repo *documentRepository) UpdateDocument(_ context.Context, doc document.Document, _ ...core.DBExecutor) (document.Document, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[doc.ID]; !ok {
		return document.Document{}, document.ErrNotFound
	}
	row := doc
	repo.db.table[doc.ID] = &row
	return doc, nil
}

func (repo *documentRepository) GetDocument(_ context.Context, id string, _ ...core.DBExecutor) (document.Document, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if doc, ok := repo.db.table[id]; ok && !doc.IsDeleted() {
		return *doc, nil
	}
	return document.Document{}, document.ErrNotFound
}

func (repo *documentRepository) QueryDocuments(_ context.Context, filter *document.QueryFilter, ordering []core.DBOrdering, page core.Page, _ ...core.DBExecutor) ([]document.Document, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter == nil {
		filter = &document.QueryFilter{}
	}
	rows := make([]document.Document, 0, len(repo.db.table))
	for _, doc := range repo.db.table {
		if filter.DeletedBefore.IsZero() {
			if doc.IsDeleted() {
				continue
			}
		} else if !doc.IsDeleted() || !doc.DeletedAt.Before(filter.DeletedBefore) {
			continue
		}
		if filter.StudentID != "" && doc.StudentID != filter.StudentID {
			continue
		}
		if filter.EnrollmentID != "" && doc.EnrollmentID != filter.EnrollmentID {
			continue
		}
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		if len(filter.Statuses) > 0 && !core.StringInSlice(doc.Status, filter.Statuses) {
			continue
		}
		if filter.Restricted && !core.StringInSlice(doc.StudentID, filter.StudentIDs) {
			continue
		}
		rows = append(rows, *doc)
	}
	orderRows(rows, nil, documentComparators)
	orderRows(rows, ordering, documentComparators)
	return paginate(rows, page), nil
}

func (repo *documentRepository) DeleteDocumentsByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			cnt++
		}
	}
	return cnt, nil
}
