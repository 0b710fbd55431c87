// Package di wires the app services with a dig container.
package di

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/quizbank/apps/api/echo"
	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/services/clerk"
	"github.com/trezcool/quizbank/services/content"
	emailsvc "github.com/trezcool/quizbank/services/email"
	"github.com/trezcool/quizbank/services/filestore"
	"github.com/trezcool/quizbank/services/generator/openaigen"
	"github.com/trezcool/quizbank/services/generator/questapi"
	"github.com/trezcool/quizbank/services/googleforms"
	"github.com/trezcool/quizbank/services/lock"
	logsvc "github.com/trezcool/quizbank/services/logger"
	stripegw "github.com/trezcool/quizbank/services/payment/stripe"
	"github.com/trezcool/quizbank/services/poller"
	"github.com/trezcool/quizbank/services/scheduler"
	"github.com/trezcool/quizbank/storage/database"
	inmemdb "github.com/trezcool/quizbank/storage/database/inmem"
	sqlxrepos "github.com/trezcool/quizbank/storage/database/sqlx"
)

const setupTimeout = time.Minute

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Storage holds the repositories of the configured database engine.
	Storage struct {
		dig.Out
		DB          *sqlx.DB // nil with the memory engine
		UserRepo    user.Repository
		BillingRepo billing.Repository
		QuizRepo    quiz.Repository
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds)
	return logsvc.NewRollbarLogger(stdLogger, conf).Named("db")
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == "memory" {
		loggerParam.Logger.Warn("using the in-memory database; data is lost on restart")
		db := inmemdb.Open()
		return Storage{
			UserRepo:    inmemdb.NewUserRepository(db),
			BillingRepo: inmemdb.NewBillingRepository(db),
			QuizRepo:    inmemdb.NewQuizRepository(db),
		}
	}

	setUp := func() (*sqlx.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()

		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Ping(ctx, db); err != nil {
			return nil, err
		}
		if err = database.Migrate(ctx, db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{
		DB:          db,
		UserRepo:    sqlxrepos.NewUserRepository(db),
		BillingRepo: sqlxrepos.NewBillingRepository(db),
		QuizRepo:    sqlxrepos.NewQuizRepository(db),
	}
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	quiz.InitValidators(validate, translator)
	return validate, translator
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger, log.New(os.Stdout, "MAIL : ", log.LstdFlags))
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newCatalog(conf *core.Config) (*billing.Catalog, error) {
	return billing.LoadCatalog(conf.Stripe.Prices)
}

func newGenerator(conf *core.Config, logger core.Logger) (quiz.Generator, error) {
	switch conf.Generator.Backend {
	case "questapi", "":
		return questapi.NewClient(conf, logger), nil
	case "openai":
		if conf.Redis.URL != "" {
			// a job submitted by one replica is unknown to the others and times out there
			logger.Warn("the openai generator keeps its jobs in memory: run a single replica",
				map[string]interface{}{"backend": conf.Generator.Backend})
		}
		return openaigen.NewClient(conf, logger), nil
	default:
		return nil, errors.Errorf("unknown generator backend %q", conf.Generator.Backend)
	}
}

func newContentSource(conf *core.Config) quiz.ContentSource {
	return content.NewSource(conf.Generator.Timeout)
}

func newFileStore(conf *core.Config) (core.FileStore, error) {
	return filestore.New(context.Background(), conf)
}

func newFormsExporter() quiz.FormsExporter {
	return googleforms.NewExporter()
}

type quizDepsParam struct {
	dig.In
	Repo       quiz.Repository
	Generator  quiz.Generator
	Content    quiz.ContentSource
	Files      core.FileStore
	BillingSvc billing.Service
	Forms      quiz.FormsExporter
	UserSvc    user.Service
	MailSvc    core.EmailService
	Logger     core.Logger
}

func newQuizService(conf *core.Config, validate *validator.Validate, p quizDepsParam) quiz.Service {
	return quiz.NewService(conf, validate, quiz.Deps{
		Repo:      p.Repo,
		Generator: p.Generator,
		Content:   p.Content,
		Files:     p.Files,
		Quota:     p.BillingSvc,
		Forms:     p.Forms,
		UserSvc:   p.UserSvc,
		MailSvc:   p.MailSvc,
		Logger:    p.Logger,
	})
}

type serverParam struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	DB         *sqlx.DB `optional:"true"`
	UserSvc    user.Service
	BillingSvc billing.Service
	QuizSvc    quiz.Service
	Clerk      *clerk.Verifier
	Translator ut.Translator
}

func newServer(p serverParam) (*echoapi.Server, error) {
	deps := echoapi.Deps{
		UserSvc:    p.UserSvc,
		BillingSvc: p.BillingSvc,
		QuizSvc:    p.QuizSvc,
		Clerk:      p.Clerk,
		Translator: p.Translator,
	}
	if db := p.DB; db != nil {
		deps.Health = func(ctx context.Context) error { return db.PingContext(ctx) }
	}
	return echoapi.NewServer(p.Conf, p.Logger, deps)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newValidator))
	must(c.Provide(newEmailService))
	must(c.Provide(user.NewService))
	must(c.Provide(newCatalog))
	must(c.Provide(stripegw.NewGateway))
	must(c.Provide(billing.NewService))
	must(c.Provide(newGenerator))
	must(c.Provide(newContentSource))
	must(c.Provide(newFileStore))
	must(c.Provide(newFormsExporter))
	must(c.Provide(newQuizService))
	must(c.Provide(lock.New))
	must(c.Provide(poller.New))
	must(c.Provide(scheduler.New))
	must(c.Provide(clerk.NewVerifier))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
