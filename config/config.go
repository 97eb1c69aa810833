package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"terminalconnect-backend/models"
)

// EnvironmentURLs maps a gateway environment name to its API base URL.
var EnvironmentURLs = map[string]string{
	"production": "https://api-terminal-gateway.tillpayments.com/devices",
	"sandbox":    "https://api-terminal-gateway.tillvision.show/devices",
	"dev-test":   "https://api-terminal-gateway.tillpayments.dev/devices",
}

const DefaultEnvironment = "sandbox"

// Config is the process-wide configuration read from the environment.
type Config struct {
	Port           string
	BodyLimitBytes int
	AllowedOrigins string
	RateLimitMax   int
	RateLimitWin   time.Duration

	DBDriver string
	DBDSN    string

	JWTSecret string

	// Deployment-wide defaults used to backfill request contexts.
	Environment string
	Defaults    models.Context

	PublicBaseURL      string
	AnonPostbackFile   string
	ReversalOptOut     bool
	GatewayTimeout     time.Duration
	KafkaBroker        string
	KafkaPostbackTopic string

	LogLevel  string
	LogFormat string
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// BaseURLFor resolves an environment name, falling back to the sandbox URL.
func BaseURLFor(environment string) string {
	if u, ok := EnvironmentURLs[strings.ToLower(strings.TrimSpace(environment))]; ok {
		return u
	}
	return EnvironmentURLs[DefaultEnvironment]
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	bodyLimit := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimit <= 0 {
		bodyLimit = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	environment := envString("ENVIRONMENT", DefaultEnvironment)
	baseURL := envString("BASE_URL", BaseURLFor(environment))

	cfg := Config{
		Port:           envString("PORT", "8080"),
		BodyLimitBytes: bodyLimit,
		AllowedOrigins: envString("ALLOWED_ORIGINS", "*"),
		RateLimitMax:   envInt("RATE_LIMIT_MAX", 60),
		RateLimitWin:   time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		DBDriver: envString("DB_DRIVER", "postgres"),
		DBDSN:    os.Getenv("DB_DSN"),

		JWTSecret: envString("JWT_SECRET_KEY", os.Getenv("JWT_SECRET")),

		Environment: environment,
		Defaults: models.Context{
			MerchantID:           os.Getenv("MID"),
			TerminalID:           os.Getenv("TID"),
			APIKey:               os.Getenv("API_KEY"),
			BaseURL:              baseURL,
			PostbackURL:          os.Getenv("POSTBACK_URL"),
			PostbackDelaySeconds: envInt("POSTBACK_DELAY", 0),
		},

		PublicBaseURL:      strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		AnonPostbackFile:   envString("ANON_POSTBACK_FILE", "data/anonymous_postbacks.json"),
		ReversalOptOut:     envBool("REVERSAL_HONORS_PINPAD_OPT_OUT", true),
		GatewayTimeout:     time.Duration(envInt("GATEWAY_TIMEOUT_SECONDS", 60)) * time.Second,
		KafkaBroker:        os.Getenv("KAFKA_BROKER"),
		KafkaPostbackTopic: envString("KAFKA_POSTBACK_TOPIC", "postback.received"),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "postgres" {
		cfg.DBDSN = "host=" + envString("DB_HOST", "db") +
			" user=" + os.Getenv("DB_USER") +
			" password=" + os.Getenv("DB_PASSWORD") +
			" dbname=" + os.Getenv("DB_NAME") +
			" port=" + envString("DB_PORT", "5432") +
			" sslmode=disable TimeZone=UTC"
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite" {
		cfg.DBDSN = "data/terminalconnect.db"
	}
	return cfg
}
