package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

func (s *Server) registerStudentAPI(g *echo.Group) {
	read := s.authorize(resStudents, "read")
	write := s.authorize(resStudents, "write")
	guardians := s.authorize(resStudents, "guardians")

	g.GET("", s.queryStudents, read)
	g.POST("", s.createStudent, write)

	dg := g.Group("/:id", read, s.objectMiddleware(s.loadStudent))
	dg.GET("", s.retrieveStudent)
	dg.PUT("", s.updateStudent, write)
	dg.DELETE("", s.destroyStudent, write)
	dg.POST("/guardians", s.linkGuardian, guardians)
	dg.DELETE("/guardians/:guardianID", s.unlinkGuardian, guardians)
}

func (s *Server) loadStudent(ctx context.Context, usr user.User, id string) (interface{}, bool, error) {
	st, err := s.deps.StudentSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	advisees, err := s.advisees(ctx, usr)
	if err != nil {
		return nil, false, err
	}
	return st, student.CanView(usr, st, advisees...), nil
}

func (s *Server) queryStudents(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	if !student.SeesAll(usr) {
		students, err := s.ownStudents(reqCtx, usr)
		if err != nil {
			return err
		}
		if students == nil {
			students = []student.Student{}
		}
		return ctx.JSON(http.StatusOK, students)
	}

	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := s.deps.StudentSvc.Query(reqCtx, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (s *Server) createStudent(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	st, err := s.deps.StudentSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (s *Server) retrieveStudent(ctx echo.Context) error {
	st, err := ctxObject[student.Student](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (s *Server) updateStudent(ctx echo.Context) error {
	st, err := ctxObject[student.Student](ctx)
	if err != nil {
		return err
	}

	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	st, err = s.deps.StudentSvc.Update(ctx.Request().Context(), st, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (s *Server) destroyStudent(ctx echo.Context) error {
	st, err := ctxObject[student.Student](ctx)
	if err != nil {
		return err
	}
	if err := s.deps.StudentSvc.Delete(ctx.Request().Context(), st.ID); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) linkGuardian(ctx echo.Context) error {
	st, err := ctxObject[student.Student](ctx)
	if err != nil {
		return err
	}

	var data student.GuardianLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GuardianLink")
	}
	if err := s.deps.Validate.Struct(data); err != nil {
		return err
	}

	st, err = s.deps.StudentSvc.LinkGuardian(ctx.Request().Context(), st, data.GuardianID)
	if err != nil {
		return errors.Wrap(err, "linking guardian")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (s *Server) unlinkGuardian(ctx echo.Context) error {
	st, err := ctxObject[student.Student](ctx)
	if err != nil {
		return err
	}

	st, err = s.deps.StudentSvc.UnlinkGuardian(ctx.Request().Context(), st, ctx.Param("guardianID"))
	if err != nil {
		return errors.Wrap(err, "unlinking guardian")
	}
	return ctx.JSON(http.StatusOK, st)
}
