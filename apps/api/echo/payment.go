package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

const dateLayout = "2006-01-02"

func (s *Server) registerPaymentAPI(g *echo.Group, authed []echo.MiddlewareFunc) {
	pg := g.Group("/payments")

	// called by the payment gateway; authenticated by the notification signature
	pg.POST("/notifications", s.paymentNotification)

	ag := pg.Group("", authed...)
	read := s.authorize(resPayments, "read")
	record := s.authorize(resPayments, "record")
	ag.GET("", s.queryPayments, read)
	ag.POST("", s.recordPayment, record)
	ag.POST("/checkout", s.checkout, s.authorize(resPayments, "checkout"))

	dg := ag.Group("/:id", read, s.objectMiddleware(s.loadPayment))
	dg.GET("", s.retrievePayment)
	dg.POST("/void", s.voidPayment, record)
}

func (s *Server) loadPayment(ctx context.Context, usr user.User, id string) (interface{}, bool, error) {
	p, err := s.deps.PaymentSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	visible, err := s.canSeeEnrollment(ctx, usr, p.EnrollmentID)
	if err != nil {
		return nil, false, err
	}
	return p, visible, nil
}

func (s *Server) canSeeEnrollment(ctx context.Context, usr user.User, enrollmentID string) (bool, error) {
	if student.SeesAll(usr) {
		return true, nil
	}
	studentID, err := s.deps.EnrollmentSvc.StudentOf(ctx, enrollmentID)
	if err != nil {
		if errors.Cause(err) == enrollment.ErrNotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "finding enrollment")
	}
	return s.canSeeStudent(ctx, usr, studentID)
}

// ownEnrollmentIDs returns the IDs of the enrollments of the students returned by ownStudents.
func (s *Server) ownEnrollmentIDs(ctx context.Context, usr user.User) ([]string, error) {
	students, err := s.ownStudents(ctx, usr)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return []string{}, nil
	}
	enrollments, err := s.deps.EnrollmentSvc.Query(
		ctx,
		&enrollment.QueryFilter{StudentIDs: studentIDs(students), Restricted: true},
		nil,
		core.Page{Limit: core.MaxPageLimit},
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (s *Server) queryPayments(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	filter := new(payment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []payment.Payment{})
	}
	filter.Clean()
	if t, err := time.Parse(dateLayout, ctx.QueryParam("paid_from")); err == nil {
		filter.PaidFrom = t
	}
	if t, err := time.Parse(dateLayout, ctx.QueryParam("paid_to")); err == nil {
		filter.PaidTo = t.Add(24*time.Hour - time.Nanosecond) // whole day
	}
	if !student.SeesAll(usr) {
		if filter.EnrollmentIDs, err = s.ownEnrollmentIDs(reqCtx, usr); err != nil {
			return err
		}
		filter.Restricted = true
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	payments, err := s.deps.PaymentSvc.Query(reqCtx, filter, ordering.Orderings, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []payment.Payment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (s *Server) recordPayment(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data payment.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	p, err := s.deps.PaymentSvc.Record(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (s *Server) checkout(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	var data payment.NewCheckout
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCheckout")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}
	visible, err := s.canSeeEnrollment(reqCtx, usr, data.EnrollmentID)
	if err != nil {
		return err
	}
	if !visible {
		return core.NewValidationError(nil, core.FieldError{Field: "enrollment_id", Error: enrollment.ErrNotFound.Error()})
	}

	p, res, err := s.deps.PaymentSvc.Checkout(reqCtx, usr, data)
	if err != nil {
		return errors.Wrap(err, "starting checkout")
	}
	return ctx.JSON(http.StatusCreated, CheckoutResponse{Payment: p, Token: res.Token, RedirectURL: res.RedirectURL})
}

func (s *Server) paymentNotification(ctx echo.Context) error {
	var data payment.Notification
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Notification")
	}

	p, err := s.deps.PaymentSvc.HandleNotification(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "handling payment notification")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (s *Server) retrievePayment(ctx echo.Context) error {
	p, err := ctxObject[payment.Payment](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (s *Server) voidPayment(ctx echo.Context) error {
	p, err := ctxObject[payment.Payment](ctx)
	if err != nil {
		return err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	p, err = s.deps.PaymentSvc.Void(ctx.Request().Context(), usr, p)
	if err != nil {
		return errors.Wrap(err, "voiding payment")
	}
	return ctx.JSON(http.StatusOK, p)
}

type CheckoutResponse struct {
	Payment     payment.Payment `json:"payment"`
	Token       string          `json:"token"`
	RedirectURL string          `json:"redirect_url"`
}
