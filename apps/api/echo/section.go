package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/user"
)

func (s *Server) registerSectionAPI(g *echo.Group) {
	read := s.authorize(resSections, "read")
	write := s.authorize(resSections, "write")

	g.GET("", s.querySections, read)
	g.POST("", s.createSection, write)

	dg := g.Group("/:id", read, s.objectMiddleware(s.loadSection))
	dg.GET("", s.retrieveSection)
	dg.PUT("", s.updateSection, write)
	dg.DELETE("", s.destroySection, write)
	dg.GET("/roster", s.sectionRoster, s.authorize(resSections, "roster"))
}

func (s *Server) loadSection(ctx context.Context, _ user.User, id string) (interface{}, bool, error) {
	sec, err := s.deps.SectionSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sec, true, nil
}

func (s *Server) querySections(ctx echo.Context) error {
	filter := new(section.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []section.Section{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	sections, err := s.deps.SectionSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying sections")
	}
	if sections == nil {
		sections = []section.Section{}
	}
	return ctx.JSON(http.StatusOK, sections)
}

func (s *Server) createSection(ctx echo.Context) error {
	var data section.NewSection
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSection")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	sec, err := s.deps.SectionSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating section")
	}
	return ctx.JSON(http.StatusCreated, sec)
}

func (s *Server) retrieveSection(ctx echo.Context) error {
	sec, err := ctxObject[section.Section](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sec)
}

func (s *Server) updateSection(ctx echo.Context) error {
	sec, err := ctxObject[section.Section](ctx)
	if err != nil {
		return err
	}

	var data section.UpdateSection
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSection")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	sec, err = s.deps.SectionSvc.Update(ctx.Request().Context(), sec, data)
	if err != nil {
		return errors.Wrap(err, "updating section")
	}
	return ctx.JSON(http.StatusOK, sec)
}

func (s *Server) destroySection(ctx echo.Context) error {
	sec, err := ctxObject[section.Section](ctx)
	if err != nil {
		return err
	}
	if err := s.deps.SectionSvc.Delete(ctx.Request().Context(), sec); err != nil {
		return errors.Wrap(err, "deleting section")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) sectionRoster(ctx echo.Context) error {
	sec, err := ctxObject[section.Section](ctx)
	if err != nil {
		return err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// teachers only see the rosters of their advisory classes
	if !(usr.IsAdmin() || usr.IsStaff()) && sec.AdviserID != usr.ID {
		return errHttpForbidden
	}

	roster, err := s.deps.SectionSvc.Roster(ctx.Request().Context(), sec.ID)
	if err != nil {
		return errors.Wrap(err, "getting section roster")
	}
	if roster == nil {
		roster = []section.RosterEntry{}
	}
	return ctx.JSON(http.StatusOK, roster)
}
