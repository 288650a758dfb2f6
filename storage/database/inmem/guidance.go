package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/guidance"
)

var severityRanks = map[string]int{guidance.SeverityLow: 1, guidance.SeverityMedium: 2, guidance.SeverityHigh: 3}

var guidanceComparators = comparators[guidance.Record]{
	"incident_date": func(a, b guidance.Record) int { return strings.Compare(a.IncidentDate, b.IncidentDate) },
	"severity":      func(a, b guidance.Record) int { return compareInt(severityRanks[a.Severity], severityRanks[b.Severity]) },
	"status":        func(a, b guidance.Record) int { return strings.Compare(a.Status, b.Status) },
	"created_at":    func(a, b guidance.Record) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":    func(a, b guidance.Record) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type guidanceRepository struct {
	db *guidanceTable
}

var _ guidance.Repository = (*guidanceRepository)(nil) // interface compliance check

func NewGuidanceRepository(db *DB) *guidanceRepository {
	return &guidanceRepository{db: db.guidance}
}

func (repo *guidanceRepository) CreateRecord(_ context.Context, rec guidance.Record, _ ...core.DBExecutor) (guidance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec.ID = uuid.New().String()
	rec.Notes = nil
	row := rec
	repo.db.table[rec.ID] = &row
	return rec, nil
}

func (repo *guidanceRepository) UpdateRecord(_ context.Context, rec guidance.Record, _ ...core.DBExecutor) (guidance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[rec.ID]; !ok {
		return guidance.Record{}, guidance.ErrNotFound
	}
	row := rec
	row.Notes = nil
	repo.db.table[rec.ID] = &row
	return rec, nil
}

func (repo *guidanceRepository) GetRecord(_ context.Context, id string, _ ...core.DBExecutor) (guidance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.table[id]; ok {
		return *rec, nil
	}
	return guidance.Record{}, guidance.ErrNotFound
}

func (repo *guidanceRepository) QueryRecords(_ context.Context, filter *guidance.QueryFilter, ordering []core.DBOrdering, page core.Page, _ ...core.DBExecutor) ([]guidance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]guidance.Record, 0, len(repo.db.table))
	for _, rec := range repo.db.table {
		if filter != nil {
			if filter.StudentID != "" && rec.StudentID != filter.StudentID {
				continue
			}
			if filter.Kind != "" && rec.Kind != filter.Kind {
				continue
			}
			if filter.Severity != "" && rec.Severity != filter.Severity {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(rec.Status, filter.Statuses) {
				continue
			}
			if filter.AssignedTo != "" && rec.AssignedTo != filter.AssignedTo {
				continue
			}
			if filter.ReportedBy != "" && rec.ReportedBy != filter.ReportedBy {
				continue
			}
			if filter.Restricted && !core.StringInSlice(rec.StudentID, filter.StudentIDs) {
				continue
			}
		}
		rows = append(rows, *rec)
	}
	orderRows(rows, nil, guidanceComparators)
	orderRows(rows, ordering, guidanceComparators)
	return paginate(rows, page), nil
}

func (repo *guidanceRepository) CreateNote(_ context.Context, note guidance.Note, _ ...core.DBExecutor) (guidance.Note, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[note.RecordID]; !ok {
		return guidance.Note{}, guidance.ErrNotFound
	}
	note.ID = uuid.New().String()
	repo.db.notes[note.RecordID] = append(repo.db.notes[note.RecordID], note)
	return note, nil
}

func (repo *guidanceRepository) Notes(_ context.Context, recordID string, _ ...core.DBExecutor) ([]guidance.Note, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	return append(make([]guidance.Note, 0, len(repo.db.notes[recordID])), repo.db.notes[recordID]...), nil
}
