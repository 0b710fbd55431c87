package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
	logsvc "github.com/trezcool/quizbank/services/logger"
)

// Config returns a configuration suitable for tests.
func Config() *core.Config {
	return &core.Config{
		Env:              "TEST",
		TestMode:         true,
		AppName:          "QuizBank",
		FrontendBaseURL:  "https://app.quizbank.test",
		DefaultFromEmail: mail.Address{Name: "QuizBank", Address: "noreply@quizbank.test"},
		Server:           core.ServerConfig{MaxUploadBytes: 1 << 20},
		Auth:             core.AuthConfig{ClerkIssuer: "https://clerk.quizbank.test"},
		Stripe: core.StripeConfig{
			SuccessURL:      "https://app.quizbank.test/billing/success",
			CancelURL:       "https://app.quizbank.test/billing",
			PortalReturnURL: "https://app.quizbank.test/billing",
			Prices:          map[string]string{"pro": "price_pro", "team": "price_team"},
		},
		Generator: core.GeneratorConfig{MaxContentChars: 20000},
		Poller: core.PollerConfig{
			BatchSize:   50,
			Concurrency: 4,
			MaxAttempts: 3,
			JobTimeout:  time.Hour,
			LockTTL:     time.Minute,
		},
		RateLimit: core.RateLimitConfig{PerMinute: 1000, Burst: 1000},
	}
}

// Logger returns a logger that discards its output.
func Logger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), Config())
}

// Validator returns a validator with all the app validators registered.
func Validator() *validator.Validate {
	validate, translator := core.NewValidator()
	quiz.InitValidators(validate, translator)
	return validate
}

func CreateUser(t *testing.T, repo user.Repository, id, email, name string, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr, err := repo.UpsertUser(ctx(), user.User{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateQuiz stores a quiz with the given status and questions.
func CreateQuiz(t *testing.T, repo quiz.Repository, qz quiz.Quiz, createdAt ...time.Time) quiz.Quiz {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if qz.ID == "" {
		qz.ID = NewID()
	}
	if qz.Language == "" {
		qz.Language = "en"
	}
	if qz.Difficulty == "" {
		qz.Difficulty = quiz.DifficultyMedium
	}
	if qz.SourceKind == "" {
		qz.SourceKind = quiz.SourceText
		qz.SourceInput = "Go is a statically typed language."
		qz.SourceText = qz.SourceInput
	}
	if qz.Status == "" {
		qz.Status = quiz.StatusReady
	}
	if qz.PendingMode == "" {
		qz.PendingMode = quiz.ModeReplace
	}
	if qz.QuestionKinds == nil {
		qz.QuestionKinds = append([]string{}, quiz.QuestionKinds...)
	}
	qz.CreatedAt, qz.UpdatedAt, qz.SubmittedAt = tstamp, tstamp, tstamp
	for i := range qz.Questions {
		if qz.Questions[i].ID == "" {
			qz.Questions[i].ID = NewID()
		}
	}
	qz, err := repo.CreateQuiz(ctx(), qz)
	if err != nil {
		t.Fatalf("CreateQuiz() failed: %v", err)
	}
	return qz
}

func MultipleChoice(prompt, answer string, options ...string) quiz.Question {
	return quiz.Question{Kind: quiz.KindMultipleChoice, Prompt: prompt, Options: options, Answer: answer}
}

func TrueFalse(prompt string, answer bool) quiz.Question {
	ans := "false"
	if answer {
		ans = "true"
	}
	return quiz.Question{Kind: quiz.KindTrueFalse, Prompt: prompt, Options: []string{"true", "false"}, Answer: ans}
}

func ShortAnswer(prompt, answer string) quiz.Question {
	return quiz.Question{Kind: quiz.KindShortAnswer, Prompt: prompt, Options: []string{}, Answer: answer}
}

// NewRSAKey returns a fresh RSA key and the PEM encoding of its public key.
func NewRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("NewRSAKey() failed: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("NewRSAKey() failed: %v", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// SignToken signs the claims with RS256, the way Clerk signs session tokens.
func SignToken(t *testing.T, key *rsa.PrivateKey, claims jwt.Claims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignToken() failed: %v", err)
	}
	return token
}
