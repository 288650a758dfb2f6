package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

func (s *Server) registerGuidanceAPI(g *echo.Group) {
	read := s.authorize(resGuidance, "read")
	manage := s.authorize(resGuidance, "manage")

	g.GET("", s.queryGuidanceRecords, read)
	g.POST("", s.createGuidanceRecord, s.authorize(resGuidance, "report"))

	dg := g.Group("/:id", read, s.objectMiddleware(s.loadGuidanceRecord))
	dg.GET("", s.retrieveGuidanceRecord)
	dg.PUT("", s.updateGuidanceRecord, manage)
	dg.POST("/assign", s.assignGuidanceRecord, s.authorize(resGuidance, "assign"))
	dg.POST("/status", s.changeGuidanceStatus, manage)
	dg.GET("/notes", s.queryGuidanceNotes, manage)
	dg.POST("/notes", s.addGuidanceNote, manage)
}

func (s *Server) loadGuidanceRecord(ctx context.Context, usr user.User, id string) (interface{}, bool, error) {
	rec, err := s.deps.GuidanceSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	var st student.Student
	if !student.SeesAll(usr) {
		if st, err = s.deps.StudentSvc.Get(ctx, rec.StudentID); err != nil {
			return nil, false, errors.Wrap(err, "finding student")
		}
	}
	advisees, err := s.advisees(ctx, usr)
	if err != nil {
		return nil, false, err
	}
	return rec, guidance.CanView(usr, rec, st, advisees...), nil
}

func (s *Server) queryGuidanceRecords(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	filter := new(guidance.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []guidance.Record{})
	}
	filter.Clean()

	students := make(map[string]student.Student)
	var advisees []string
	if !student.SeesAll(usr) {
		own, err := s.ownStudents(reqCtx, usr)
		if err != nil {
			return err
		}
		for _, st := range own {
			students[st.ID] = st
		}
		if usr.IsTeacher() {
			// reporters also see their records about other students
			if advisees, err = s.advisees(reqCtx, usr); err != nil {
				return err
			}
		} else {
			filter.StudentIDs = studentIDs(own)
			filter.Restricted = true
		}
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	records, err := s.deps.GuidanceSvc.Query(reqCtx, filter, ordering.Orderings, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying guidance records")
	}

	res := make([]guidance.Record, 0, len(records))
	for _, rec := range records {
		if guidance.CanView(usr, rec, students[rec.StudentID], advisees...) {
			res = append(res, rec)
		}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (s *Server) createGuidanceRecord(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data guidance.NewRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecord")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	rec, err := s.deps.GuidanceSvc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating guidance record")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (s *Server) retrieveGuidanceRecord(ctx echo.Context) error {
	rec, err := ctxObject[guidance.Record](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

// managedRecord returns the context record if the context user may manage it.
func (s *Server) managedRecord(ctx echo.Context) (guidance.Record, user.User, error) {
	rec, err := ctxObject[guidance.Record](ctx)
	if err != nil {
		return guidance.Record{}, user.User{}, err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return guidance.Record{}, user.User{}, errors.Wrap(err, "getting context user")
	}
	if !guidance.CanManage(usr, rec) {
		return guidance.Record{}, user.User{}, errHttpForbidden
	}
	return rec, usr, nil
}

func (s *Server) updateGuidanceRecord(ctx echo.Context) error {
	rec, _, err := s.managedRecord(ctx)
	if err != nil {
		return err
	}

	var data guidance.UpdateRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRecord")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	rec, err = s.deps.GuidanceSvc.Update(ctx.Request().Context(), rec, data)
	if err != nil {
		return errors.Wrap(err, "updating guidance record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (s *Server) assignGuidanceRecord(ctx echo.Context) error {
	rec, err := ctxObject[guidance.Record](ctx)
	if err != nil {
		return err
	}

	var data guidance.Assignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Assignment")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	rec, err = s.deps.GuidanceSvc.Assign(ctx.Request().Context(), rec, data.CounselorID)
	if err != nil {
		return errors.Wrap(err, "assigning guidance record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (s *Server) changeGuidanceStatus(ctx echo.Context) error {
	rec, _, err := s.managedRecord(ctx)
	if err != nil {
		return err
	}

	var data guidance.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	rec, err = s.deps.GuidanceSvc.Transition(ctx.Request().Context(), rec, data)
	if err != nil {
		return errors.Wrap(err, "changing guidance record status")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (s *Server) queryGuidanceNotes(ctx echo.Context) error {
	rec, _, err := s.managedRecord(ctx)
	if err != nil {
		return err
	}

	notes, err := s.deps.GuidanceSvc.Notes(ctx.Request().Context(), rec)
	if err != nil {
		return errors.Wrap(err, "querying guidance notes")
	}
	if notes == nil {
		notes = []guidance.Note{}
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (s *Server) addGuidanceNote(ctx echo.Context) error {
	rec, usr, err := s.managedRecord(ctx)
	if err != nil {
		return err
	}

	var data guidance.NewNote
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNote")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	note, err := s.deps.GuidanceSvc.AddNote(ctx.Request().Context(), usr, rec, data)
	if err != nil {
		return errors.Wrap(err, "adding guidance note")
	}
	return ctx.JSON(http.StatusCreated, note)
}
