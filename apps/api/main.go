package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	echoapi "github.com/trezcool/campus/apps/api/echo"
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
	emailsvc "github.com/trezcool/campus/services/email"
	"github.com/trezcool/campus/services/jobs"
	logsvc "github.com/trezcool/campus/services/logger"
	paymentsvc "github.com/trezcool/campus/services/payment"
	"github.com/trezcool/campus/services/pubsub"
	"github.com/trezcool/campus/services/realtime"
	"github.com/trezcool/campus/storage/blob"
	"github.com/trezcool/campus/storage/database"
	boiledrepos "github.com/trezcool/campus/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/campus/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()
	if err = database.Migrate(db.DB); err != nil {
		logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	// set up storage, broker & gateway
	blobs, err := blob.Open(conf.Storage, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up blob storage: %v", err), err)
	}
	broker, err := pubsub.Open(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up chat broker: %v", err), err)
	}
	if c, ok := broker.(io.Closer); ok {
		defer c.Close()
	}
	var gateway payment.Gateway
	if gw := paymentsvc.NewMidtransGateway(conf.Payment); gw != nil {
		gateway = gw
	} else {
		logger.Info("no payment gateway configured: online payments are disabled")
	}
	refCoder, err := enrollment.NewRefCoder(conf.SecretKey)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up reference codes: %v", err), err)
	}

	// set up services
	mailSvc := emailsvc.NewService(conf, logger)
	sectionRepo := sqlxrepos.NewSectionRepository(db)

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf, logger)
	studentSvc := student.NewService(db, sqlxrepos.NewStudentRepository(db), usrSvc)
	sectionSvc := section.NewService(sectionRepo, usrSvc)
	enrollmentSvc := enrollment.NewService(
		db, sqlxrepos.NewEnrollmentRepository(db), studentSvc, sectionRepo, usrSvc, refCoder, mailSvc, logger,
	)
	paymentSvc := payment.NewService(db, sqlxrepos.NewPaymentRepository(db), enrollmentSvc, usrSvc, gateway, mailSvc, logger)
	guidanceSvc := guidance.NewService(sqlxrepos.NewGuidanceRepository(db), studentSvc, usrSvc)
	documentSvc := document.NewService(
		sqlxrepos.NewDocumentRepository(db), blobs, blob.NewImageResizer(), studentSvc, enrollmentSvc, conf.Storage, logger,
	)
	chatSvc := chat.NewService(sqlxrepos.NewChatRepository(db), usrSvc, broker, logger)
	dashboardSvc := dashboard.NewService(
		boiledrepos.NewStatsRepository(db), enrollmentSvc, paymentSvc, guidanceSvc, sectionSvc, studentSvc, documentSvc,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger, false)

	user.LoadCommonPasswords(logger)

	hub := realtime.NewHub(chatSvc, broker, validate, conf.Server.AllowedOrigins, logger)

	// =========================================================================
	// Start Background Services

	supervisor := suture.New("campus", suture.Spec{
		EventHook: func(evt suture.Event) { logger.Warn(evt.String()) },
	})
	supervisor.Add(hub)
	supervisor.Add(jobs.NewTrashReaper(documentSvc, conf.Storage, logger))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	bgDone := supervisor.ServeBackground(bgCtx)
	defer func() {
		stopBackground()
		if err := <-bgDone; err != nil && err != context.Canceled {
			logger.Error(fmt.Sprintf("background services: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server, err := echoapi.NewServer(echoapi.Deps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		UserSvc:       usrSvc,
		StudentSvc:    studentSvc,
		SectionSvc:    sectionSvc,
		EnrollmentSvc: enrollmentSvc,
		PaymentSvc:    paymentSvc,
		GuidanceSvc:   guidanceSvc,
		DocumentSvc:   documentSvc,
		ChatSvc:       chatSvc,
		DashboardSvc:  dashboardSvc,
		Hub:           hub,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up server: %v", err), err)
	}

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
