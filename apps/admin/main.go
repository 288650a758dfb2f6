package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/jobs"
	logsvc "github.com/trezcool/campus/services/logger"
	"github.com/trezcool/campus/storage/blob"
	"github.com/trezcool/campus/storage/database"
	sqlxrepos "github.com/trezcool/campus/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	blobs, err := blob.Open(conf.Storage, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up blob storage: %v", err), err)
	}
	refCoder, err := enrollment.NewRefCoder(conf.SecretKey)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up reference codes: %v", err), err)
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, nil, conf, logger)
	students := student.NewService(db, sqlxrepos.NewStudentRepository(db), usrSvc)
	enrollments := enrollment.NewService(
		db, sqlxrepos.NewEnrollmentRepository(db), students, sqlxrepos.NewSectionRepository(db), usrSvc, refCoder, nil, logger,
	)
	documents := document.NewService(
		sqlxrepos.NewDocumentRepository(db), blobs, nil, students, enrollments, conf.Storage, logger,
	)

	// start CLI
	cli := commandLine{
		db:      db.DB,
		usrRepo: usrRepo,
		reaper:  jobs.NewTrashReaper(documents, conf.Storage, logger),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
