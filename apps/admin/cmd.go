package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/storage/database"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db         *sql.DB
	conf       *core.Config
	examSvc    *exam.Service
	attemptSvc *attempt.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createdb - create the app user and database if missing")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Println("  seedexam -file FILE - create a draft exam from a JSON file")
	fmt.Println("  publish -exam ID - open a draft exam to candidates")
	fmt.Println("  approve -registration ID - approve a pending registration")
	fmt.Println("  cancelattempt -attempt ID - cancel an assigned or started attempt")
	fmt.Println("  sweepexpired - force-expire every started attempt past its time limit")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	seedExamCmd := flag.NewFlagSet("seedexam", flag.ExitOnError)
	seedExamFile := seedExamCmd.String("file", "", "Path to a JSON exam definition.")

	publishCmd := flag.NewFlagSet("publish", flag.ExitOnError)
	publishExamID := publishCmd.String("exam", "", "The exam ID.")

	approveCmd := flag.NewFlagSet("approve", flag.ExitOnError)
	approveRegID := approveCmd.String("registration", "", "The registration ID.")

	cancelCmd := flag.NewFlagSet("cancelattempt", flag.ExitOnError)
	cancelAttemptID := cancelCmd.String("attempt", "", "The attempt ID.")

	ctx := context.Background()

	switch args[1] {
	case "createdb":
		return database.CreateIfNotExist(cli.conf)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seedexam":
		if err := seedExamCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedExamFile == "" {
			seedExamCmd.Usage()
			return errHelp
		}
		return cli.seedExam(ctx, *seedExamFile)
	case "publish":
		if err := publishCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *publishExamID == "" {
			publishCmd.Usage()
			return errHelp
		}
		ex, err := cli.examSvc.Publish(ctx, *publishExamID)
		if err != nil {
			return err
		}
		fmt.Printf("exam %s published\n", ex.ID)
		return nil
	case "approve":
		if err := approveCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *approveRegID == "" {
			approveCmd.Usage()
			return errHelp
		}
		reg, err := cli.examSvc.Approve(ctx, *approveRegID)
		if err != nil {
			return err
		}
		fmt.Printf("registration %s approved (exam %s, candidate %s)\n", reg.ID, reg.ExamID, reg.CandidateID)
		return nil
	case "cancelattempt":
		if err := cancelCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *cancelAttemptID == "" {
			cancelCmd.Usage()
			return errHelp
		}
		att, err := cli.attemptSvc.Cancel(ctx, *cancelAttemptID)
		if err != nil {
			return err
		}
		fmt.Printf("attempt %s cancelled\n", att.ID)
		return nil
	case "sweepexpired":
		n, err := cli.attemptSvc.SweepOverrun(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d attempt(s) expired\n", n)
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}
