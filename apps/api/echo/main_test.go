package echoapi_test

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/quizbank/apps/api/echo"
	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/services/clerk"
	emailsvc "github.com/trezcool/quizbank/services/email"
	inmemdb "github.com/trezcool/quizbank/storage/database/inmem"
	"github.com/trezcool/quizbank/testutil"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	server     *echoapi.Server
	conf       *core.Config
	key        *rsa.PrivateKey
	usrRepo    user.Repository
	quizRepo   quiz.Repository
	billingSvc billing.Service
	gen        *testutil.Generator
	mailSvc    *emailsvc.ConsoleServiceMock
}

// newTestApp wires the API on the in-memory database, with a fake generator and without Stripe.
func newTestApp(t *testing.T, configure ...func(conf *core.Config)) *testApp {
	conf := testutil.Config()
	key, pemKey := testutil.NewRSAKey(t)
	conf.Auth.ClerkJWTKey = pemKey
	for _, fn := range configure {
		fn(conf)
	}
	logger := testutil.Logger()
	validate, translator := core.NewValidator()
	quiz.InitValidators(validate, translator)

	db := inmemdb.Open()
	app := &testApp{
		conf:     conf,
		key:      key,
		usrRepo:  inmemdb.NewUserRepository(db),
		quizRepo: inmemdb.NewQuizRepository(db),
		gen:      testutil.NewGenerator(),
		mailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
	}

	catalog, err := billing.LoadCatalog(conf.Stripe.Prices)
	require.NoError(t, err)
	usrSvc := user.NewService(app.usrRepo)
	app.billingSvc = billing.NewService(conf, catalog, inmemdb.NewBillingRepository(db), usrSvc, nil, app.mailSvc, logger)
	quizSvc := quiz.NewService(conf, validate, quiz.Deps{
		Repo:      app.quizRepo,
		Generator: app.gen,
		Content:   &testutil.Content{},
		Files:     testutil.NewFileStore(),
		Quota:     app.billingSvc,
		Forms:     &testutil.Forms{},
		UserSvc:   usrSvc,
		MailSvc:   app.mailSvc,
		Logger:    logger,
	})

	verifier, err := clerk.NewVerifier(conf)
	require.NoError(t, err)

	app.server, err = echoapi.NewServer(conf, logger, echoapi.Deps{
		UserSvc:    usrSvc,
		BillingSvc: app.billingSvc,
		QuizSvc:    quizSvc,
		Clerk:      verifier,
		Translator: translator,
	})
	require.NoError(t, err)
	return app
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	now := time.Now()
	return testutil.SignToken(t, app.key, echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   usr.ID,
			Issuer:    app.conf.Auth.ClerkIssuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(time.Hour).Unix(),
		},
		SessionID: "sess_1",
		Email:     usr.Email,
		Name:      usr.Name,
	})
}

func (app *testApp) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

// run serves the request of each test and checks its response.
func (app *testApp) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := newAuthRequest(method, tt.path, tt.token, tt.body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			checkCodeAndData(t, tt, app.serve(req))
		})
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	headers  map[string]string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func unmarshalBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshalBody(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// checkCodeAndData compares the response code, and the JSON body when wantData is set.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
