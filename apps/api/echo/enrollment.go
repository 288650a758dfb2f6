package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

func (s *Server) registerEnrollmentAPI(g *echo.Group) {
	read := s.authorize(resEnrollments, "read")
	review := s.authorize(resEnrollments, "review")

	g.GET("", s.queryEnrollments, read)
	g.POST("", s.submitEnrollment, s.authorize(resEnrollments, "submit"))
	g.GET("/ref/:code", s.retrieveEnrollmentByRef, read)

	dg := g.Group("/:id", read, s.objectMiddleware(s.loadEnrollment))
	dg.GET("", s.retrieveEnrollment)
	dg.POST("/approve", s.approveEnrollment, review)
	dg.POST("/reject", s.rejectEnrollment, review)
	dg.POST("/section", s.assignEnrollmentSection, review)
	dg.POST("/finalize", s.finalizeEnrollment, review)
	dg.POST("/withdraw", s.withdrawEnrollment, s.authorize(resEnrollments, "withdraw"))
}

func (s *Server) loadEnrollment(ctx context.Context, usr user.User, id string) (interface{}, bool, error) {
	e, err := s.deps.EnrollmentSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	visible, err := s.canSeeStudent(ctx, usr, e.StudentID)
	if err != nil {
		return nil, false, err
	}
	return e, visible, nil
}

func (s *Server) queryEnrollments(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	filter := new(enrollment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []enrollment.Enrollment{})
	}
	filter.Clean()
	if !student.SeesAll(usr) {
		students, err := s.ownStudents(reqCtx, usr)
		if err != nil {
			return err
		}
		filter.StudentIDs = studentIDs(students)
		filter.Restricted = true
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrollments, err := s.deps.EnrollmentSvc.Query(reqCtx, filter, ordering.Orderings, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (s *Server) submitEnrollment(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data enrollment.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	e, err := s.deps.EnrollmentSvc.Submit(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "submitting enrollment")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (s *Server) retrieveEnrollmentByRef(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	e, err := s.deps.EnrollmentSvc.GetByRefCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "finding enrollment by reference code")
	}
	visible, err := s.canSeeStudent(reqCtx, usr, e.StudentID)
	if err != nil {
		return err
	}
	if !visible {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, e)
}

func (s *Server) retrieveEnrollment(ctx echo.Context) error {
	e, err := ctxObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

// enrollmentAction runs a review action on the context enrollment and returns the result.
func (s *Server) enrollmentAction(
	ctx echo.Context,
	action func(ctx context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error),
) error {
	e, err := ctxObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	e, err = action(ctx.Request().Context(), usr, e)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

func (s *Server) approveEnrollment(ctx echo.Context) error {
	var data enrollment.Approval
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Approval")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}
	return s.enrollmentAction(ctx, func(c context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error) {
		e, err := s.deps.EnrollmentSvc.Approve(c, actor, e, data)
		return e, errors.Wrap(err, "approving enrollment")
	})
}

func (s *Server) rejectEnrollment(ctx echo.Context) error {
	var data enrollment.Decision
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Decision")
	}
	if err := data.Validate(s.deps.Validate, true /* required */); err != nil {
		return err
	}
	return s.enrollmentAction(ctx, func(c context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error) {
		e, err := s.deps.EnrollmentSvc.Reject(c, actor, e, data)
		return e, errors.Wrap(err, "rejecting enrollment")
	})
}

func (s *Server) withdrawEnrollment(ctx echo.Context) error {
	var data enrollment.Decision
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Decision")
	}
	if err := data.Validate(s.deps.Validate, false); err != nil {
		return err
	}
	return s.enrollmentAction(ctx, func(c context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error) {
		e, err := s.deps.EnrollmentSvc.Withdraw(c, actor, e, data)
		return e, errors.Wrap(err, "withdrawing enrollment")
	})
}

func (s *Server) assignEnrollmentSection(ctx echo.Context) error {
	var data enrollment.SectionAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SectionAssignment")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}
	return s.enrollmentAction(ctx, func(c context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error) {
		e, err := s.deps.EnrollmentSvc.AssignSection(c, actor, e, data.SectionID)
		return e, errors.Wrap(err, "assigning section")
	})
}

func (s *Server) finalizeEnrollment(ctx echo.Context) error {
	return s.enrollmentAction(ctx, func(c context.Context, actor user.User, e enrollment.Enrollment) (enrollment.Enrollment, error) {
		e, err := s.deps.EnrollmentSvc.Finalize(c, actor, e)
		return e, errors.Wrap(err, "finalizing enrollment")
	})
}
