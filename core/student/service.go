package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("student not found")
	ErrLRNExists  = errors.New("a student with this LRN already exists")
	ErrUserLinked = errors.New("this account is already linked to another student")

	errNotParentAccount  = "guardian accounts must have the parent role"
	errNotStudentAccount = "linked account must have the student role"
)

type (
	Repository interface {
		// CheckUniqueness returns ErrLRNExists or ErrUserLinked when another student (than excludedID) holds lrn or userID.
		CheckUniqueness(ctx context.Context, lrn, userID, excludedID string, exec ...core.DBExecutor) error
		CreateStudent(ctx context.Context, st Student, exec ...core.DBExecutor) (Student, error)
		UpdateStudent(ctx context.Context, st Student, exec ...core.DBExecutor) (Student, error)
		GetStudent(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Student, error)
		GetStudentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]Student, error)
		// QueryStudents applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on the student's names or LRN.
		QueryStudents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Student, error)
		SetGuardians(ctx context.Context, studentID string, guardianIDs []string, exec ...core.DBExecutor) error
		DeleteStudent(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// UserGetter finds user accounts.
	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		db    core.DB
		repo  Repository
		users UserGetter
	}
)

func NewService(db core.DB, repo Repository, users UserGetter) *Service {
	return &Service{db: db, repo: repo, users: users}
}

func (svc *Service) checkUniqueness(ctx context.Context, lrn, userID, excludedID string) error {
	if err := svc.repo.CheckUniqueness(ctx, lrn, userID, excludedID); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrLRNExists:
			field = "lrn"
		case ErrUserLinked:
			field = "user_id"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

// checkAccounts verifies that userID (if set) is a student account and that all guardians are parent accounts.
func (svc *Service) checkAccounts(ctx context.Context, userID string, guardianIDs []string) error {
	if userID != "" {
		users, err := svc.users.GetByIDs(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "finding student account")
		}
		if len(users) != 1 || !users[0].IsStudent() {
			return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: errNotStudentAccount})
		}
	}
	if len(guardianIDs) > 0 {
		guardians, err := svc.users.GetByIDs(ctx, guardianIDs...)
		if err != nil {
			return errors.Wrap(err, "finding guardian accounts")
		}
		if len(guardians) != len(guardianIDs) {
			return core.NewValidationError(nil, core.FieldError{Field: "guardian_ids", Error: errNotParentAccount})
		}
		for _, g := range guardians {
			if !g.IsParent() {
				return core.NewValidationError(nil, core.FieldError{Field: "guardian_ids", Error: errNotParentAccount})
			}
		}
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	guardianIDs := dedupe(ns.GuardianIDs)
	if err := svc.checkUniqueness(ctx, ns.LRN, ns.UserID, ""); err != nil {
		return Student{}, err
	}
	if err := svc.checkAccounts(ctx, ns.UserID, guardianIDs); err != nil {
		return Student{}, err
	}

	now := time.Now().UTC()
	st := Student{
		UserID:      ns.UserID,
		LRN:         ns.LRN,
		FirstName:   ns.FirstName,
		MiddleName:  ns.MiddleName,
		LastName:    ns.LastName,
		BirthDate:   ns.BirthDate,
		Sex:         ns.Sex,
		Address:     ns.Address,
		GradeLevel:  *ns.GradeLevel,
		GuardianIDs: guardianIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if st, err = svc.repo.CreateStudent(ctx, st, exec); err != nil {
			return errors.Wrap(err, "creating student")
		}
		return errors.Wrap(svc.repo.SetGuardians(ctx, st.ID, guardianIDs, exec), "setting guardians")
	})
	if err != nil {
		return Student{}, err
	}
	st.GuardianIDs = guardianIDs
	return st, nil
}

func (svc *Service) Update(ctx context.Context, st Student, us UpdateStudent) (Student, error) {
	us.Apply(&st)
	if us.UserID != nil {
		if err := svc.checkUniqueness(ctx, st.LRN, st.UserID, st.ID); err != nil {
			return Student{}, err
		}
		if err := svc.checkAccounts(ctx, st.UserID, nil); err != nil {
			return Student{}, err
		}
	}
	st.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateStudent(ctx, st)
}

func (svc *Service) Get(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByIDs(ctx context.Context, ids ...string) ([]Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return svc.repo.GetStudentsByID(ctx, ids)
}

// GetByUserID returns the student linked to the user account userID.
func (svc *Service) GetByUserID(ctx context.Context, userID string) (Student, error) {
	return svc.repo.GetStudent(ctx, GetFilter{UserID: userID})
}

// ChildrenOf returns the students having guardianID as guardian.
func (svc *Service) ChildrenOf(ctx context.Context, guardianID string) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, &QueryFilter{GuardianID: guardianID}, []core.DBOrdering{{Field: "last_name", Ascending: true}})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	ordering = core.AllowedOrderings(ordering, "lrn", "first_name", "last_name", "grade_level", "created_at", "updated_at")
	return svc.repo.QueryStudents(ctx, filter, ordering)
}

func (svc *Service) LinkGuardian(ctx context.Context, st Student, guardianID string) (Student, error) {
	if st.HasGuardian(guardianID) {
		return st, nil
	}
	if err := svc.checkAccounts(ctx, "", []string{guardianID}); err != nil {
		return Student{}, err
	}
	guardianIDs := append(append([]string{}, st.GuardianIDs...), guardianID)
	if err := svc.repo.SetGuardians(ctx, st.ID, guardianIDs); err != nil {
		return Student{}, errors.Wrap(err, "setting guardians")
	}
	st.GuardianIDs = guardianIDs
	return st, nil
}

func (svc *Service) UnlinkGuardian(ctx context.Context, st Student, guardianID string) (Student, error) {
	guardianIDs := make([]string, 0, len(st.GuardianIDs))
	for _, id := range st.GuardianIDs {
		if id != guardianID {
			guardianIDs = append(guardianIDs, id)
		}
	}
	if err := svc.repo.SetGuardians(ctx, st.ID, guardianIDs); err != nil {
		return Student{}, errors.Wrap(err, "setting guardians")
	}
	st.GuardianIDs = guardianIDs
	return st, nil
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteStudent(ctx, id)
}

// SeesAll reports whether usr may see every student: admins and staff.
func SeesAll(usr user.User) bool {
	return usr.IsAdmin() || usr.IsStaff()
}

// CanView reports whether usr may see the student's records: admins and staff,
// the student themselves, their guardians and, for teachers, the students of the
// sections they advise (advisees holds their IDs).
func CanView(usr user.User, st Student, advisees ...string) bool {
	switch {
	case SeesAll(usr):
		return true
	case st.UserID != "" && st.UserID == usr.ID:
		return true
	case usr.IsParent() && st.HasGuardian(usr.ID):
		return true
	}
	return usr.IsTeacher() && core.StringInSlice(st.ID, advisees)
}

func dedupe(ids []string) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if !core.StringInSlice(id, res) {
			res = append(res, id)
		}
	}
	return res
}
