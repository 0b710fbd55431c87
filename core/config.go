package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridAPIKey   string
		RollbarToken     string

		Server    ServerConfig
		Database  DatabaseConfig
		Auth      AuthConfig
		Stripe    StripeConfig
		Generator GeneratorConfig
		Poller    PollerConfig
		Storage   StorageConfig
		Redis     RedisConfig
		RateLimit RateLimitConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugAddress    string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		MaxUploadBytes  int64
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	AuthConfig struct {
		// ClerkJWTKey is the PEM encoded public key used to verify Clerk session tokens.
		ClerkJWTKey        string
		ClerkIssuer        string
		ClerkWebhookSecret string
	}

	StripeConfig struct {
		SecretKey       string
		WebhookSecret   string
		SuccessURL      string
		CancelURL       string
		PortalReturnURL string
		Prices          map[string]string // {planID: priceID}
	}

	GeneratorConfig struct {
		Backend         string // questapi | openai
		BaseURL         string
		APIKey          string
		Model           string
		Timeout         time.Duration
		MaxContentChars int
		ResultTTL       time.Duration
	}

	PollerConfig struct {
		Schedule    string
		BatchSize   int
		Concurrency int
		MaxAttempts int
		JobTimeout  time.Duration
		LockTTL     time.Duration
	}

	StorageConfig struct {
		Backend         string // local | gcs
		LocalDir        string
		Bucket          string
		CredentialsFile string
	}

	RedisConfig struct {
		URL string
	}

	RateLimitConfig struct {
		PerMinute int
		Burst     int
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

// NewConfig loads the configuration for the current ENV (DEV by default) from the environment,
// after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	conf := viper.New()
	setDefaults(conf)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	conf.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           conf.GetString("build"),
		Debug:           conf.GetBool("debug"),
		TestMode:        conf.GetBool("testMode"),
		AppName:         conf.GetString("appName"),
		FrontendBaseURL: strings.TrimRight(conf.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail: mail.Address{
			Name:    conf.GetString("appName"),
			Address: conf.GetString("defaultFromEmail"),
		},
		SendgridAPIKey: conf.GetString("sendgridAPIKey"),
		RollbarToken:   conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			Address:         conf.GetString("server.address"),
			DebugAddress:    conf.GetString("server.debugAddress"),
			ReadTimeout:     conf.GetDuration("server.readTimeout"),
			WriteTimeout:    conf.GetDuration("server.writeTimeout"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
			MaxUploadBytes:  conf.GetInt64("server.maxUploadBytes"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Auth: AuthConfig{
			ClerkJWTKey:        conf.GetString("auth.clerkJWTKey"),
			ClerkIssuer:        conf.GetString("auth.clerkIssuer"),
			ClerkWebhookSecret: conf.GetString("auth.clerkWebhookSecret"),
		},
		Stripe: StripeConfig{
			SecretKey:       conf.GetString("stripe.secretKey"),
			WebhookSecret:   conf.GetString("stripe.webhookSecret"),
			SuccessURL:      conf.GetString("stripe.successURL"),
			CancelURL:       conf.GetString("stripe.cancelURL"),
			PortalReturnURL: conf.GetString("stripe.portalReturnURL"),
			Prices: map[string]string{
				"pro":  conf.GetString("stripe.prices.pro"),
				"team": conf.GetString("stripe.prices.team"),
			},
		},
		Generator: GeneratorConfig{
			Backend:         conf.GetString("generator.backend"),
			BaseURL:         conf.GetString("generator.baseURL"),
			APIKey:          conf.GetString("generator.apiKey"),
			Model:           conf.GetString("generator.model"),
			Timeout:         conf.GetDuration("generator.timeout"),
			MaxContentChars: conf.GetInt("generator.maxContentChars"),
			ResultTTL:       conf.GetDuration("generator.resultTTL"),
		},
		Poller: PollerConfig{
			Schedule:    conf.GetString("poller.schedule"),
			BatchSize:   conf.GetInt("poller.batchSize"),
			Concurrency: conf.GetInt("poller.concurrency"),
			MaxAttempts: conf.GetInt("poller.maxAttempts"),
			JobTimeout:  conf.GetDuration("poller.jobTimeout"),
			LockTTL:     conf.GetDuration("poller.lockTTL"),
		},
		Storage: StorageConfig{
			Backend:         conf.GetString("storage.backend"),
			LocalDir:        conf.GetString("storage.localDir"),
			Bucket:          conf.GetString("storage.bucket"),
			CredentialsFile: conf.GetString("storage.credentialsFile"),
		},
		Redis: RedisConfig{
			URL: conf.GetString("redis.url"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: conf.GetInt("rateLimit.perMinute"),
			Burst:     conf.GetInt("rateLimit.burst"),
		},
	}
}

func setDefaults(conf *viper.Viper) {
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("build", "develop")
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "QuizBank")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("sendgridAPIKey", "")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugAddress", ":4000")
	conf.SetDefault("server.readTimeout", 10*time.Second)
	conf.SetDefault("server.writeTimeout", 30*time.Second)
	conf.SetDefault("server.shutdownTimeout", 10*time.Second)
	conf.SetDefault("server.maxUploadBytes", int64(10<<20))

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "quizbank")
	conf.SetDefault("database.user", "quizbank")
	conf.SetDefault("database.password", "quizbank")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("auth.clerkJWTKey", "")
	conf.SetDefault("auth.clerkIssuer", "")
	conf.SetDefault("auth.clerkWebhookSecret", "")

	conf.SetDefault("stripe.secretKey", "")
	conf.SetDefault("stripe.webhookSecret", "")
	conf.SetDefault("stripe.successURL", "http://localhost:3000/billing?checkout=success")
	conf.SetDefault("stripe.cancelURL", "http://localhost:3000/billing?checkout=cancel")
	conf.SetDefault("stripe.portalReturnURL", "http://localhost:3000/billing")
	conf.SetDefault("stripe.prices.pro", "")
	conf.SetDefault("stripe.prices.team", "")

	conf.SetDefault("generator.backend", "questapi")
	conf.SetDefault("generator.baseURL", "http://localhost:8090")
	conf.SetDefault("generator.apiKey", "")
	conf.SetDefault("generator.model", "gpt-4o-mini")
	conf.SetDefault("generator.timeout", 30*time.Second)
	conf.SetDefault("generator.maxContentChars", 20000)
	conf.SetDefault("generator.resultTTL", time.Hour)

	conf.SetDefault("poller.schedule", "@every 10s")
	conf.SetDefault("poller.batchSize", 50)
	conf.SetDefault("poller.concurrency", 4)
	conf.SetDefault("poller.maxAttempts", 60)
	conf.SetDefault("poller.jobTimeout", 15*time.Minute)
	conf.SetDefault("poller.lockTTL", time.Minute)

	conf.SetDefault("storage.backend", "local")
	conf.SetDefault("storage.localDir", filepath.Join(os.TempDir(), "quizbank"))
	conf.SetDefault("storage.bucket", "")
	conf.SetDefault("storage.credentialsFile", "")

	conf.SetDefault("redis.url", "")

	conf.SetDefault("rateLimit.perMinute", 10)
	conf.SetDefault("rateLimit.burst", 3)
}
