package echoapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

// objectLoader finds the object identified by id and reports whether usr may see it.
type objectLoader func(ctx context.Context, usr user.User, id string) (obj interface{}, visible bool, err error)

// objectMiddleware sets the object identified by the :id param in the context.
// Objects the context user may not see are reported as not found.
func (s *Server) objectMiddleware(load objectLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := s.getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			obj, visible, err := load(ctx.Request().Context(), usr, ctx.Param("id"))
			if err != nil {
				return err
			}
			if !visible {
				return errHttpNotFound
			}
			ctx.Set(contextObjKey, obj)
			return next(ctx)
		}
	}
}

func ctxObject[T any](ctx echo.Context) (T, error) {
	obj, ok := ctx.Get(contextObjKey).(T)
	if !ok {
		var zero T
		return zero, errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	return obj, nil
}

// advisees returns the IDs of the students holding a seat in the sections usr advises.
// It is empty for users who see every student.
func (s *Server) advisees(ctx context.Context, usr user.User) ([]string, error) {
	if !usr.IsTeacher() || student.SeesAll(usr) {
		return nil, nil
	}
	sections, err := s.deps.SectionSvc.AdvisedBy(ctx, usr.ID, "")
	if err != nil {
		return nil, errors.Wrap(err, "finding advised sections")
	}
	var ids []string
	for _, sec := range sections {
		roster, err := s.deps.SectionSvc.Roster(ctx, sec.ID)
		if err != nil {
			return nil, errors.Wrap(err, "finding roster")
		}
		for _, entry := range roster {
			if !core.StringInSlice(entry.StudentID, ids) {
				ids = append(ids, entry.StudentID)
			}
		}
	}
	return ids, nil
}

// ownStudents returns the students a user who does not see every student may see:
// their own profile, their children and the students of the sections they advise.
func (s *Server) ownStudents(ctx context.Context, usr user.User) ([]student.Student, error) {
	var res []student.Student
	add := func(students ...student.Student) {
		for _, st := range students {
			if !core.StringInSlice(st.ID, studentIDs(res)) {
				res = append(res, st)
			}
		}
	}
	if usr.IsStudent() {
		st, err := s.deps.StudentSvc.GetByUserID(ctx, usr.ID)
		switch {
		case err == nil:
			add(st)
		case errors.Cause(err) != student.ErrNotFound:
			return nil, errors.Wrap(err, "finding student profile")
		}
	}
	if usr.IsParent() {
		children, err := s.deps.StudentSvc.ChildrenOf(ctx, usr.ID)
		if err != nil {
			return nil, errors.Wrap(err, "finding children")
		}
		add(children...)
	}
	ids, err := s.advisees(ctx, usr)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		advised, err := s.deps.StudentSvc.GetByIDs(ctx, ids...)
		if err != nil {
			return nil, errors.Wrap(err, "finding advised students")
		}
		add(advised...)
	}
	return res, nil
}

func studentIDs(students []student.Student) []string {
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	return ids
}

// canSeeStudent reports whether usr may see the records of the student studentID.
func (s *Server) canSeeStudent(ctx context.Context, usr user.User, studentID string) (bool, error) {
	if student.SeesAll(usr) {
		return true, nil
	}
	students, err := s.ownStudents(ctx, usr)
	if err != nil {
		return false, err
	}
	for _, st := range students {
		if st.ID == studentID {
			return true, nil
		}
	}
	return false, nil
}
