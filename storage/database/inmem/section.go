package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/section"
)

var sectionComparators = comparators[section.Section]{
	"name":        func(a, b section.Section) int { return strings.Compare(a.Name, b.Name) },
	"grade_level": func(a, b section.Section) int { return compareInt(a.GradeLevel, b.GradeLevel) },
	"school_year": func(a, b section.Section) int { return strings.Compare(a.SchoolYear, b.SchoolYear) },
	"capacity":    func(a, b section.Section) int { return compareInt(a.Capacity, b.Capacity) },
	"created_at":  func(a, b section.Section) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

type sectionRepository struct {
	db *DB
}

var _ section.Repository = (*sectionRepository)(nil) // interface compliance check

func NewSectionRepository(db *DB) *sectionRepository {
	return &sectionRepository{db: db}
}

// assigned counts the active enrollments per section. The caller must hold the enrollment lock.
func (repo *sectionRepository) assigned() map[string]int {
	cnt := make(map[string]int)
	for _, e := range repo.db.enrollment.table {
		if e.SectionID != "" && e.IsActive() {
			cnt[e.SectionID]++
		}
	}
	return cnt
}

func (repo *sectionRepository) query() []section.Section {
	repo.db.enrollment.RLock()
	assigned := repo.assigned()
	repo.db.enrollment.RUnlock()

	sections := make([]section.Section, 0, len(repo.db.section.table))
	for _, sec := range repo.db.section.table {
		s := *sec
		s.Assigned = assigned[s.ID]
		sections = append(sections, s)
	}
	orderRows(sections, nil, sectionComparators)
	return sections
}

func (repo *sectionRepository) CheckNameUniqueness(_ context.Context, name, schoolYear, excludedID string, _ ...core.DBExecutor) error {
	repo.db.section.RLock()
	defer repo.db.section.RUnlock()

	for _, sec := range repo.db.section.table {
		if sec.ID != excludedID && sec.SchoolYear == schoolYear && strings.EqualFold(sec.Name, name) {
			return section.ErrNameExists
		}
	}
	return nil
}

func (repo *sectionRepository) CreateSection(_ context.Context, sec section.Section, _ ...core.DBExecutor) (section.Section, error) {
	repo.db.section.Lock()
	defer repo.db.section.Unlock()

	sec.ID = uuid.New().String()
	sec.Assigned = 0
	row := sec
	repo.db.section.table[sec.ID] = &row
	return sec, nil
}

func (repo *sectionRepository) UpdateSection(_ context.Context, sec section.Section, _ ...core.DBExecutor) (section.Section, error) {
	repo.db.section.Lock()
	defer repo.db.section.Unlock()

	if _, ok := repo.db.section.table[sec.ID]; !ok {
		return section.Section{}, section.ErrNotFound
	}
	row := sec
	repo.db.section.table[sec.ID] = &row
	return sec, nil
}

func (repo *sectionRepository) GetSection(_ context.Context, id string, _ ...core.DBExecutor) (section.Section, error) {
	repo.db.section.RLock()
	defer repo.db.section.RUnlock()

	for _, sec := range repo.query() {
		if sec.ID == id {
			return sec, nil
		}
	}
	return section.Section{}, section.ErrNotFound
}

// LockSection only reads the section: the in-memory store has no transactions.
func (repo *sectionRepository) LockSection(ctx context.Context, id string, exec ...core.DBExecutor) (section.Section, error) {
	return repo.GetSection(ctx, id, exec...)
}

func (repo *sectionRepository) QuerySections(_ context.Context, filter *section.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]section.Section, error) {
	repo.db.section.RLock()
	defer repo.db.section.RUnlock()

	sections := repo.query()
	if filter != nil {
		filtered := make([]section.Section, 0, len(sections))
		for _, sec := range sections {
			if filter.Search != "" && !containsFold(sec.Name, filter.Search) && !containsFold(sec.Room, filter.Search) {
				continue
			}
			if filter.SchoolYear != "" && sec.SchoolYear != filter.SchoolYear {
				continue
			}
			if filter.GradeLevel != nil && sec.GradeLevel != *filter.GradeLevel {
				continue
			}
			if filter.AdviserID != "" && sec.AdviserID != filter.AdviserID {
				continue
			}
			filtered = append(filtered, sec)
		}
		sections = filtered
	}
	orderRows(sections, ordering, sectionComparators)
	return sections, nil
}

func (repo *sectionRepository) Roster(_ context.Context, id string, _ ...core.DBExecutor) ([]section.RosterEntry, error) {
	repo.db.student.RLock()
	defer repo.db.student.RUnlock()
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()

	roster := make([]section.RosterEntry, 0)
	for _, e := range repo.db.enrollment.table {
		if e.SectionID != id || !e.IsActive() {
			continue
		}
		entry := section.RosterEntry{EnrollmentID: e.ID, StudentID: e.StudentID, Status: e.Status}
		if st, ok := repo.db.student.table[e.StudentID]; ok {
			entry.LRN = st.LRN
			entry.FirstName = st.FirstName
			entry.LastName = st.LastName
		}
		roster = append(roster, entry)
	}
	orderRows(roster, []core.DBOrdering{{Field: "last_name", Ascending: true}, {Field: "first_name", Ascending: true}}, comparators[section.RosterEntry]{
		"last_name":  func(a, b section.RosterEntry) int { return strings.Compare(a.LastName, b.LastName) },
		"first_name": func(a, b section.RosterEntry) int { return strings.Compare(a.FirstName, b.FirstName) },
	})
	return roster, nil
}

func (repo *sectionRepository) DeleteSection(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.section.Lock()
	defer repo.db.section.Unlock()

	if _, ok := repo.db.section.table[id]; !ok {
		return section.ErrNotFound
	}
	delete(repo.db.section.table, id)
	return nil
}
