package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const errInvalidSchoolYear = "must be a school year like 2025-2026"

func (s *Server) registerDashboardAPI(g *echo.Group) {
	view := s.authorize(resDashboard, "view")
	g.GET("", s.ownDashboard, view)
	g.GET("/:kind", s.dashboard, view)
}

// schoolYear returns the school_year query param, defaulting to the current school year.
func (s *Server) schoolYear(ctx echo.Context) (string, error) {
	sy := core.CleanString(ctx.QueryParam("school_year"))
	if sy == "" {
		return s.deps.Conf.CurrentSchoolYear, nil
	}
	if _, ok := core.ParseSchoolYear(sy); !ok {
		return "", core.NewValidationError(nil, core.FieldError{Field: "school_year", Error: errInvalidSchoolYear})
	}
	return sy, nil
}

func (s *Server) ownDashboard(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sy, err := s.schoolYear(ctx)
	if err != nil {
		return err
	}

	dash, err := s.deps.DashboardSvc.For(ctx.Request().Context(), usr, sy)
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return ctx.JSON(http.StatusOK, dash)
}

func (s *Server) dashboard(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sy, err := s.schoolYear(ctx)
	if err != nil {
		return err
	}

	dash, err := s.deps.DashboardSvc.Get(ctx.Request().Context(), usr, ctx.Param("kind"), sy)
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return ctx.JSON(http.StatusOK, dash)
}
