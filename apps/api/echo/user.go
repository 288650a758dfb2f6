package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var errNoPermsToSetRoles = "not enough rights to set these roles"

func (s *Server) registerUserAPI(g *echo.Group, authed []echo.MiddlewareFunc) {
	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", s.login, s.limiter.middleware)
	ug.POST("/password-reset", s.resetPassword, s.limiter.middleware)
	ug.POST("/password-reset-confirm", s.confirmPasswordReset, s.limiter.middleware)

	// authed endpoints
	ag := ug.Group("", authed...)
	manage := s.authorize(resUsers, "manage")
	ag.POST("/token-refresh", s.refreshUserToken)
	ag.GET("/me", s.me)
	ag.POST("/register", s.createUser, manage)
	ag.GET("", s.queryUsers, manage)
	ag.DELETE("", s.destroyUsers, manage)
	ag.GET("/roles", s.queryRoles, manage)

	// detail endpoints
	dg := ag.Group("/:id", s.ctxUserOrAdminMiddleware)
	dg.GET("", s.retrieveUser)
	dg.PUT("", s.updateUser)
	dg.DELETE("", s.destroyUser, manage)
}

func (s *Server) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(ctx.Request().Context(), s.deps.Validate, s.deps.UserSvc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	ctxUsr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err := s.deps.UserSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (s *Server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	claims, err := s.authenticate(ctx, data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(s.deps.Conf, claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	err := s.deps.UserSvc.RequestPasswordReset(ctx.Request().Context(), data.Email)
	if !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (s *Server) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	if err := s.deps.UserSvc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (s *Server) queryUsers(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := s.deps.UserSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (s *Server) me(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) retrieveUser(ctx echo.Context) error {
	usr, err := ctxObject[user.User](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) updateUser(ctx echo.Context) error {
	usr, err := ctxObject[user.User](ctx)
	if err != nil {
		return err
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		// `IsActive` and `Roles` can only be changed by admin
		// `Username` and `Email` can only be changed by admin for now
		if data.IsActive != nil || data.Roles != nil || data.Username != "" || data.Email != "" {
			return errHttpForbidden
		}
	}

	if err := data.Validate(ctx.Request().Context(), usr, s.deps.Validate, s.deps.UserSvc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err = s.deps.UserSvc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) destroyUser(ctx echo.Context) error {
	usr, err := ctxObject[user.User](ctx)
	if err != nil {
		return err
	}

	// ctxUser cannot delete themselves nor a user with a higher role
	ctxUsr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.ID == ctxUsr.ID || user.MaxRolePriority(usr.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return errHttpForbidden
	}

	if err := s.deps.UserSvc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) destroyUsers(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	ctxUsr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if core.StringInSlice(ctxUsr.ID, query.IDs) {
		return errHttpForbidden
	}
	users, err := s.deps.UserSvc.GetByIDs(ctx.Request().Context(), query.IDs...)
	if err != nil {
		return errors.Wrap(err, "finding users")
	}
	maxPriority := user.MaxRolePriority(ctxUsr.Roles)
	for _, usr := range users {
		if user.MaxRolePriority(usr.Roles) > maxPriority {
			return errHttpForbidden
		}
	}

	if err := s.deps.UserSvc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (s *Server) refreshUserToken(ctx echo.Context) error {
	token, err := s.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

// ctxUserOrAdminMiddleware sets the user of the :id param as context object
// when it is the context user or the context user is an admin.
func (s *Server) ctxUserOrAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return s.objectMiddleware(func(ctx context.Context, ctxUsr user.User, id string) (interface{}, bool, error) {
		if id != ctxUsr.ID && !ctxUsr.IsAdmin() {
			return nil, false, nil
		}
		usr, err := s.deps.UserSvc.GetByID(ctx, id)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return nil, false, nil
			}
			return nil, false, errors.Wrap(err, "finding user by ID")
		}
		return usr, true, nil
	})(next)
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
