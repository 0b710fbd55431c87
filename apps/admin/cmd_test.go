package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
	emailsvc "github.com/trezcool/quizbank/services/email"
	"github.com/trezcool/quizbank/services/lock"
	"github.com/trezcool/quizbank/services/poller"
	inmemdb "github.com/trezcool/quizbank/storage/database/inmem"
	"github.com/trezcool/quizbank/testutil"
)

type fixture struct {
	cli      *commandLine
	usrRepo  user.Repository
	quizRepo quiz.Repository
	gen      *testutil.Generator
}

func setup(t *testing.T) fixture {
	conf := testutil.Config()
	logger := testutil.Logger()
	db := inmemdb.Open()
	f := fixture{
		usrRepo:  inmemdb.NewUserRepository(db),
		quizRepo: inmemdb.NewQuizRepository(db),
		gen:      testutil.NewGenerator(),
	}

	catalog, err := billing.LoadCatalog(conf.Stripe.Prices)
	require.NoError(t, err)
	usrSvc := user.NewService(f.usrRepo)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	billingSvc := billing.NewService(conf, catalog, inmemdb.NewBillingRepository(db), usrSvc, nil, mailSvc, logger)
	quizSvc := quiz.NewService(conf, testutil.Validator(), quiz.Deps{
		Repo:      f.quizRepo,
		Generator: f.gen,
		Content:   &testutil.Content{},
		Files:     testutil.NewFileStore(),
		Quota:     &testutil.Quota{},
		Forms:     &testutil.Forms{},
		UserSvc:   usrSvc,
		MailSvc:   mailSvc,
		Logger:    logger,
	})

	f.cli = &commandLine{
		conf:       conf,
		logger:     logger,
		db:         new(sql.DB),
		billingSvc: billingSvc,
		quizSvc:    quizSvc,
		poller:     poller.New(conf, quizSvc, lock.NewMemory(), logger),
	}
	return f
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
	extra      interface{}
}

// run executes the CLI and returns its output.
func (f fixture) run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand(f.cli)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func checkRun(t *testing.T, tt cliTest, out string, err error) {
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		assert.EqualError(t, err, tt.wantErrStr)
	default:
		assert.NoError(t, err)
	}
	if tt.wantOut != "" {
		assert.Contains(t, out, tt.wantOut)
	}
}

func Test_commandLine_root(t *testing.T) {
	f := setup(t)
	out, err := f.run()
	assert.Equal(t, errHelp, err)
	assert.Contains(t, out, "grant-credits")

	_, err = f.run("lol")
	assert.Error(t, err)
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	migrateFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "quiz_tags", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			checkRun(t, tt, out, err)
		})
	}
}

func Test_commandLine_plans(t *testing.T) {
	f := setup(t)
	out, err := f.run("plans")
	require.NoError(t, err)
	assert.Contains(t, out, "Generations/month")
	assert.Contains(t, out, "price_pro")
	assert.Contains(t, out, "Free")
}

func Test_commandLine_grantCredits(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "user_1", "ada@test.io", "Ada")

	tests := []cliTest{
		{name: "missing flags", args: []string{"grant-credits"}, wantErrStr: `required flag(s) "credits", "user" not set`},
		{name: "invalid credits", args: []string{"grant-credits", "--user", usr.ID, "--credits", "0"}, wantErrStr: "must be greater than 0"},
		{name: "unknown user", args: []string{"grant-credits", "--user", "lol", "--credits", "3"}, wantErrStr: "user not found"},
		{name: "grant", args: []string{"grant-credits", "--user", usr.ID, "--credits", "3"}, wantOut: "user_1 now has 3 bonus credits"},
		{name: "grant more", args: []string{"grant-credits", "--user", usr.ID, "--credits", "2"}, wantOut: "user_1 now has 5 bonus credits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			checkRun(t, tt, out, err)
		})
	}
}

func Test_commandLine_setPlan(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "user_1", "ada@test.io", "Ada")
	until := time.Now().UTC().AddDate(0, 1, 0).Format(dateLayout)

	tests := []cliTest{
		{name: "invalid date", args: []string{"set-plan", "--user", usr.ID, "--plan", "pro", "--until", "next month"}, wantErrStr: "must be a date formatted as YYYY-MM-DD"},
		{name: "past date", args: []string{"set-plan", "--user", usr.ID, "--plan", "pro", "--until", "2020-01-01"}, wantErrStr: "must be in the future"},
		{name: "unknown plan", args: []string{"set-plan", "--user", usr.ID, "--plan", "lol", "--until", until}, wantErrStr: "invalid plan"},
		{name: "set", args: []string{"set-plan", "--user", usr.ID, "--plan", "pro", "--until", until}, wantOut: "user_1 is on the pro plan until " + until},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			checkRun(t, tt, out, err)
		})
	}

	ent, err := f.cli.billingSvc.Entitlement(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", ent.Plan.ID)
}

func Test_commandLine_sharePassword(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "user_1", "ada@test.io", "Ada")
	private := testutil.CreateQuiz(t, f.quizRepo, quiz.Quiz{OwnerID: usr.ID, Title: "Private"})
	shared := testutil.CreateQuiz(t, f.quizRepo, quiz.Quiz{OwnerID: usr.ID, Title: "Shared", ShareToken: "0123456789abcdef0123456789abcdef"})

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no quiz", args: []string{"share-password"}, wantErrStr: `required flag(s) "quiz" not set`},
		{name: "unknown quiz", args: []string{"share-password", "--quiz", "lol"}, extra: extra{pwd: "s3cret"}, wantErrStr: "quiz not found"},
		{name: "not shared", args: []string{"share-password", "--quiz", private.ID}, extra: extra{pwd: "s3cret"}, wantErrStr: "the quiz is not shared"},
		{name: "too short", args: []string{"share-password", "--quiz", shared.ID}, extra: extra{pwd: "abc"}, wantErrStr: "the password must contain 4 to 72 characters"},
		{name: "protect", args: []string{"share-password", "--quiz", shared.ID}, extra: extra{pwd: "s3cret"}, wantOut: `"Shared" is now password protected`},
	}
	for _, tt := range tests {
		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			checkRun(t, tt, out, err)
		})
	}

	qz, err := f.quizRepo.GetQuiz(ctx, quiz.GetFilter{ID: shared.ID})
	require.NoError(t, err)
	assert.True(t, qz.IsProtected())

	t.Run("empty password removes the protection", func(t *testing.T) {
		readPasswordFunc = func(int) ([]byte, error) { return nil, nil }
		out, err := f.run("share-password", "--quiz", shared.ID)
		require.NoError(t, err)
		assert.Contains(t, out, `"Shared" is no longer password protected`)

		qz, err := f.quizRepo.GetQuiz(ctx, quiz.GetFilter{ID: shared.ID})
		require.NoError(t, err)
		assert.False(t, qz.IsProtected())
	})
}

func Test_commandLine_poll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "user_1", "ada@test.io", "Ada")

	qz, err := f.cli.quizSvc.Create(ctx, usr.ID, quiz.NewQuiz{Title: "Go", SourceKind: quiz.SourceKeywords, Keywords: []string{"go"}, Count: 2})
	require.NoError(t, err)
	require.Equal(t, quiz.StatusPending, qz.Status)

	out, err := f.run("poll")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending")

	f.gen.Complete(qz.JobID,
		testutil.TrueFalse("Go has generics.", true),
		testutil.ShortAnswer("Who created Go?", "Google"),
	)
	_, err = f.run("poll")
	require.NoError(t, err)

	got, err := f.quizRepo.GetQuiz(ctx, quiz.GetFilter{ID: qz.ID})
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusReady, got.Status)
	assert.Len(t, got.Questions, 2)
}
