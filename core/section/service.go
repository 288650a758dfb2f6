package section

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("section not found")
	ErrNameExists = errors.New("a section with this name already exists for this school year")
	ErrNotEmpty   = errors.New("section still has students assigned")

	errNotTeacherAccount = "adviser must have the teacher role"
	errBelowAssigned     = "capacity cannot be lower than the number of assigned students"
)

type (
	Repository interface {
		CheckNameUniqueness(ctx context.Context, name, schoolYear, excludedID string, exec ...core.DBExecutor) error
		CreateSection(ctx context.Context, sec Section, exec ...core.DBExecutor) (Section, error)
		UpdateSection(ctx context.Context, sec Section, exec ...core.DBExecutor) (Section, error)
		GetSection(ctx context.Context, id string, exec ...core.DBExecutor) (Section, error)
		// LockSection gets the section and locks it until the end of the transaction held by exec.
		LockSection(ctx context.Context, id string, exec ...core.DBExecutor) (Section, error)
		QuerySections(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Section, error)
		Roster(ctx context.Context, id string, exec ...core.DBExecutor) ([]RosterEntry, error)
		DeleteSection(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// UserGetter finds user accounts.
	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		repo  Repository
		users UserGetter
	}
)

func NewService(repo Repository, users UserGetter) *Service {
	return &Service{repo: repo, users: users}
}

func (svc *Service) checkNameUniqueness(ctx context.Context, name, schoolYear, excludedID string) error {
	if err := svc.repo.CheckNameUniqueness(ctx, name, schoolYear, excludedID); err != nil {
		if errors.Cause(err) == ErrNameExists {
			return core.NewValidationError(err, core.FieldError{Field: "name", Error: ErrNameExists.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) checkAdviser(ctx context.Context, adviserID string) error {
	if adviserID == "" {
		return nil
	}
	users, err := svc.users.GetByIDs(ctx, adviserID)
	if err != nil {
		return errors.Wrap(err, "finding adviser")
	}
	if len(users) != 1 || !users[0].IsTeacher() {
		return core.NewValidationError(nil, core.FieldError{Field: "adviser_id", Error: errNotTeacherAccount})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, ns NewSection) (Section, error) {
	if err := svc.checkNameUniqueness(ctx, ns.Name, ns.SchoolYear, ""); err != nil {
		return Section{}, err
	}
	if err := svc.checkAdviser(ctx, ns.AdviserID); err != nil {
		return Section{}, err
	}

	now := time.Now().UTC()
	return svc.repo.CreateSection(ctx, Section{
		Name:       ns.Name,
		GradeLevel: *ns.GradeLevel,
		SchoolYear: ns.SchoolYear,
		AdviserID:  ns.AdviserID,
		Room:       ns.Room,
		Capacity:   ns.Capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *Service) Update(ctx context.Context, sec Section, us UpdateSection) (Section, error) {
	if us.Name != nil && *us.Name != sec.Name {
		if err := svc.checkNameUniqueness(ctx, *us.Name, sec.SchoolYear, sec.ID); err != nil {
			return Section{}, err
		}
		sec.Name = *us.Name
	}
	if us.AdviserID != nil {
		if err := svc.checkAdviser(ctx, *us.AdviserID); err != nil {
			return Section{}, err
		}
		sec.AdviserID = *us.AdviserID
	}
	if us.Room != nil {
		sec.Room = *us.Room
	}
	if us.Capacity != nil {
		if *us.Capacity < sec.Assigned {
			return Section{}, core.NewValidationError(nil, core.FieldError{Field: "capacity", Error: errBelowAssigned})
		}
		sec.Capacity = *us.Capacity
	}
	sec.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSection(ctx, sec)
}

func (svc *Service) Get(ctx context.Context, id string) (Section, error) {
	return svc.repo.GetSection(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Section, error) {
	ordering = core.AllowedOrderings(ordering, "name", "grade_level", "school_year", "capacity", "created_at")
	return svc.repo.QuerySections(ctx, filter, ordering)
}

// AdvisedBy returns the sections of the school year advised by the teacher adviserID.
func (svc *Service) AdvisedBy(ctx context.Context, adviserID, schoolYear string) ([]Section, error) {
	return svc.repo.QuerySections(
		ctx,
		&QueryFilter{AdviserID: adviserID, SchoolYear: schoolYear},
		[]core.DBOrdering{{Field: "grade_level", Ascending: true}, {Field: "name", Ascending: true}},
	)
}

func (svc *Service) Roster(ctx context.Context, id string) ([]RosterEntry, error) {
	return svc.repo.Roster(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, sec Section) error {
	if sec.Assigned > 0 {
		return core.NewConflictError(ErrNotEmpty)
	}
	return svc.repo.DeleteSection(ctx, sec.ID)
}
