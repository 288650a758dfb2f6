package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/student"
)

var studentComparators = comparators[student.Student]{
	"lrn":         func(a, b student.Student) int { return strings.Compare(a.LRN, b.LRN) },
	"first_name":  func(a, b student.Student) int { return strings.Compare(a.FirstName, b.FirstName) },
	"last_name":   func(a, b student.Student) int { return strings.Compare(a.LastName, b.LastName) },
	"grade_level": func(a, b student.Student) int { return compareInt(a.GradeLevel, b.GradeLevel) },
	"created_at":  func(a, b student.Student) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":  func(a, b student.Student) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type studentRepository struct {
	db *studentTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db.student}
}

func (repo *studentRepository) get(id string) (student.Student, bool) {
	st, ok := repo.db.table[id]
	if !ok {
		return student.Student{}, false
	}
	res := *st
	res.GuardianIDs = copyStrings(repo.db.guardians[id])
	if res.GuardianIDs == nil {
		res.GuardianIDs = []string{}
	}
	return res, true
}

func (repo *studentRepository) query() []student.Student {
	students := make([]student.Student, 0, len(repo.db.table))
	for id := range repo.db.table {
		st, _ := repo.get(id)
		students = append(students, st)
	}
	orderRows(students, nil, studentComparators)
	return students
}

func (repo *studentRepository) CheckUniqueness(_ context.Context, lrn, userID, excludedID string, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, st := range repo.db.table {
		if st.ID == excludedID {
			continue
		}
		if st.LRN == lrn {
			return student.ErrLRNExists
		}
		if userID != "" && st.UserID == userID {
			return student.ErrUserLinked
		}
	}
	return nil
}

func (repo *studentRepository) CreateStudent(_ context.Context, st student.Student, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	st.ID = uuid.New().String()
	row := st
	row.GuardianIDs = nil
	repo.db.table[st.ID] = &row
	st.GuardianIDs = []string{}
	return st, nil
}

func (repo *studentRepository) UpdateStudent(_ context.Context, st student.Student, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[st.ID]; !ok {
		return student.Student{}, student.ErrNotFound
	}
	row := st
	row.GuardianIDs = nil
	repo.db.table[st.ID] = &row
	return st, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, filter student.GetFilter, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if st, ok := repo.get(filter.ID); ok {
			return st, nil
		}
		return student.Student{}, student.ErrNotFound
	}
	for _, st := range repo.query() {
		if (filter.UserID != "" && st.UserID == filter.UserID) || (filter.LRN != "" && st.LRN == filter.LRN) {
			return st, nil
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) GetStudentsByID(_ context.Context, ids []string, _ ...core.DBExecutor) ([]student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := make([]student.Student, 0, len(ids))
	for _, st := range repo.query() {
		if core.StringInSlice(st.ID, ids) {
			students = append(students, st)
		}
	}
	return students, nil
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := repo.query()
	if filter != nil {
		filtered := make([]student.Student, 0, len(students))
		for _, st := range students {
			if filter.Search != "" &&
				!containsFold(st.FullName(), filter.Search) &&
				!strings.HasPrefix(st.LRN, filter.Search) {
				continue
			}
			if filter.GradeLevel != nil && st.GradeLevel != *filter.GradeLevel {
				continue
			}
			if filter.GuardianID != "" && !st.HasGuardian(filter.GuardianID) {
				continue
			}
			filtered = append(filtered, st)
		}
		students = filtered
	}
	orderRows(students, ordering, studentComparators)
	return students, nil
}

func (repo *studentRepository) SetGuardians(_ context.Context, studentID string, guardianIDs []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[studentID]; !ok {
		return student.ErrNotFound
	}
	repo.db.guardians[studentID] = copyStrings(guardianIDs)
	return nil
}

func (repo *studentRepository) DeleteStudent(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return student.ErrNotFound
	}
	delete(repo.db.table, id)
	delete(repo.db.guardians, id)
	return nil
}
