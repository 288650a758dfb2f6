// Package echoapi exposes the Campus REST API and the chat WebSocket with echo.
package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/casbin/casbin/v2"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/dashboard"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/realtime"
)

type (
	Deps struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool

		UserSvc       user.Service
		StudentSvc    *student.Service
		SectionSvc    *section.Service
		EnrollmentSvc *enrollment.Service
		PaymentSvc    *payment.Service
		GuidanceSvc   *guidance.Service
		DocumentSvc   *document.Service
		ChatSvc       *chat.Service
		DashboardSvc  *dashboard.Service
		// Hub serves /v1/chat/ws; the route is not registered when nil.
		Hub *realtime.Hub
	}

	Server struct {
		deps     Deps
		app      *echo.Echo
		enforcer *casbin.SyncedEnforcer
		limiter  *ipRateLimiter
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps Deps) (*Server, error) {
	enforcer, err := newEnforcer()
	if err != nil {
		return nil, errors.Wrap(err, "loading authorization policy")
	}

	s := &Server{
		deps:     deps,
		app:      echo.New(),
		enforcer: enforcer,
		limiter:  newIPRateLimiter(deps.Conf.Server.LoginRate, deps.Conf.Server.LoginBurst),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s, nil
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: conf.Server.AllowedOrigins}))
	s.app.Use(metricsMiddleware)

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(conf, ""))
	authed := []echo.MiddlewareFunc{jwt, s.activeUserMiddleware}

	s.registerUserAPI(v1, authed)
	s.registerStudentAPI(v1.Group("/students", authed...))
	s.registerSectionAPI(v1.Group("/sections", authed...))
	s.registerEnrollmentAPI(v1.Group("/enrollments", authed...))
	s.registerPaymentAPI(v1, authed)
	s.registerGuidanceAPI(v1.Group("/guidance", authed...))
	s.registerDocumentAPI(v1.Group("/documents", authed...))
	s.registerChatAPI(v1.Group("/chat"), authed)
	s.registerDashboardAPI(v1.Group("/dashboard", authed...))
}

// Start listens until the server is shut down; failures are sent to Errors.
func (s *Server) Start() {
	conf := s.deps.Conf.Server
	srv := &http.Server{
		Addr:         conf.Address,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	}
	if s.deps.Logger != nil {
		s.deps.Logger.Info(fmt.Sprintf("API listening on %s", conf.Address))
	}
	if err := s.app.StartServer(srv); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
