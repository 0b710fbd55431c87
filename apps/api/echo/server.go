package echoapi

import (
	"context"
	"crypto/rsa"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dgrijalva/jwt-go"
	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/core/user"
	"github.com/trezcool/quizbank/services/clerk"
)

type (
	Deps struct {
		UserSvc    user.Service
		BillingSvc billing.Service
		QuizSvc    quiz.Service
		Clerk      *clerk.Verifier // nil when Clerk webhooks are disabled
		Translator ut.Translator
		// Health reports whether the app dependencies (the database) are reachable.
		Health func(ctx context.Context) error
	}

	Server struct {
		*http.Server
		app      *echo.Echo
		conf     *core.Config
		logger   core.Logger
		deps     Deps
		authKey  *rsa.PublicKey
		limiter  *rateLimiter
		shutdown chan os.Signal
		errors   chan error
	}
)

func NewServer(conf *core.Config, logger core.Logger, deps Deps) (*Server, error) {
	s := &Server{
		app:      echo.New(),
		conf:     conf,
		logger:   logger,
		deps:     deps,
		limiter:  newRateLimiter(conf.RateLimit.PerMinute, conf.RateLimit.Burst),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	if conf.Auth.ClerkJWTKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(conf.Auth.ClerkJWTKey))
		if err != nil {
			return nil, errors.Wrap(err, "parsing clerk jwt key")
		}
		s.authKey = key
	} else {
		logger.Warn("auth.clerkJWTKey is not set; authenticated endpoints are disabled")
	}

	s.Server = &http.Server{
		Addr:         conf.Server.Address,
		Handler:      s.app,
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)

	s.setup()
	return s, nil
}

func (s *Server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(metricsMiddleware)
	s.app.Use(middleware.BodyLimit(bodyLimit(s.conf.Server.MaxUploadBytes)))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = s.conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	auth := s.authMiddleware()
	limit := s.limiter.middleware

	registerWebhooksAPI(v1, s.deps, s.logger)
	registerUserAPI(v1, auth, s.deps)
	registerBillingAPI(v1, auth, s.deps)
	registerQuizAPI(v1, auth, limit, s.deps, s.conf.Server.MaxUploadBytes)
	registerSharedAPI(v1, auth, s.deps)
}

// Start listens until the server is shut down; a listen failure is sent to Errors.
func (s *Server) Start() {
	s.logger.Info("API listening on " + s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error            { return s.errors }
func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}

func (s *Server) health(ctx echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health(ctx.Request().Context()); err != nil {
			s.logger.Error("health check failed", err)
			return ctx.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok", "build": s.conf.Build})
}

// bodyLimit leaves room for the multipart envelope around an upload.
func bodyLimit(maxUpload int64) string {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return strconv.FormatInt((maxUpload+1<<20+1023)/1024, 10) + "K"
}
