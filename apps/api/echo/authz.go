package echoapi

import (
	_ "embed"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/user"
)

// Resources
const (
	resUsers       = "users"
	resStudents    = "students"
	resSections    = "sections"
	resEnrollments = "enrollments"
	resPayments    = "payments"
	resGuidance    = "guidance"
	resDocuments   = "documents"
	resChat        = "chat"
	resDashboard   = "dashboard"
)

//go:embed authz_model.conf
var authzModel string

//go:embed authz_policy.csv
var authzPolicy string

// newEnforcer loads the role -> resource -> action permissions.
func newEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(authzModel)
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(authzPolicy))
	if err != nil {
		return nil, errors.Wrap(err, "creating enforcer")
	}
	return enforcer, nil
}

// can reports whether any of usr's roles allows action on resource.
func (s *Server) can(usr user.User, resource, action string) (bool, error) {
	for _, role := range usr.Roles {
		ok, err := s.enforcer.Enforce(role, resource, action)
		if err != nil {
			return false, errors.Wrapf(err, "enforcing %s %s %s", role, resource, action)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// authorize lets the request through when the context user may perform action on resource.
// Object level checks are left to the handlers.
func (s *Server) authorize(resource, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := s.getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			ok, err := s.can(usr, resource, action)
			if err != nil {
				return err
			}
			if !ok {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}
