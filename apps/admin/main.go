package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/apps/api/di"
	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	logsvc "github.com/trezcool/quizbank/services/logger"
	"github.com/trezcool/quizbank/services/poller"
	"github.com/trezcool/quizbank/storage/database"
)

func main() {
	conf := core.NewConfig()
	cli := &commandLine{
		conf:   conf,
		logger: logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf),
	}
	defer cli.close()

	if err := newRootCommand(cli).Execute(); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		cli.close()
		os.Exit(1)
	}
}

// connectDB opens the app database for the migrate command; migrations are not applied.
func (cli *commandLine) connectDB(ctx context.Context) error {
	if cli.db != nil {
		return nil
	}
	if err := database.CreateIfNotExist(ctx, cli.conf); err != nil {
		return err
	}
	db, err := database.Open(cli.conf)
	if err != nil {
		return err
	}
	if err = database.Ping(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	cli.db = db.DB
	cli.closers = append(cli.closers, db.Close)
	return nil
}

// loadServices builds the app services the same way the API does.
func (cli *commandLine) loadServices() error {
	if cli.quizSvc != nil {
		return nil
	}
	err := di.New().Invoke(func(billingSvc billing.Service, quizSvc quiz.Service, pollr *poller.Poller, db *sqlx.DB) {
		cli.billingSvc = billingSvc
		cli.quizSvc = quizSvc
		cli.poller = pollr
		if db != nil {
			cli.closers = append(cli.closers, db.Close)
		}
	})
	return errors.Wrap(err, "loading services")
}

func (cli *commandLine) close() {
	for _, closeFn := range cli.closers {
		if err := closeFn(); err != nil {
			cli.logger.Error("closing", err)
		}
	}
	cli.closers = nil
}
