package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	"github.com/trezcool/mtihani/storage/database"
	sqlxrepos "github.com/trezcool/mtihani/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.Conf
	if err := conf.Validate(); err != nil {
		logger.Fatal(err)
	}

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	sdb := sqlx.NewDb(db, conf.Database.Engine)

	examRepo := sqlxrepos.NewExamRepository(sdb)
	attRepo := sqlxrepos.NewAttemptRepository(sdb)
	violationRepo := sqlxrepos.NewViolationRepository(sdb)

	svcLogger := logsvc.NewStdLogger(logger)
	mailSvc := emailsvc.NewConsoleService()
	examSvc := exam.NewService(examRepo, mailSvc, svcLogger)
	integritySvc := integrity.NewService(violationRepo, attRepo, mailSvc, svcLogger)
	attemptSvc := attempt.NewService(attRepo, examRepo, integritySvc, svcLogger)

	// start CLI
	cli := commandLine{
		db:         db,
		conf:       conf,
		examSvc:    examSvc,
		attemptSvc: attemptSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
