package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredential is fatal: the service must not start without a Gemini key.
var ErrMissingCredential = errors.New("missing required env GEMINI_API_KEY")

type Config struct {
	Env  string
	Port string

	GeminiAPIKey      string
	GeminiModel       string
	RatingLanguage    string
	RatingTemperature float32

	SessionTTL time.Duration

	TelegramBotToken string
	WebhookURL       string

	DatabaseURL      string
	HistoryRetention time.Duration
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after a .env file outside production.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Env:  env,
		Port: getEnv("PORT", "8080"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", getEnv("API_KEY", "")),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		RatingLanguage: getEnv("RATING_LANGUAGE", "Italian"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		DatabaseURL: resolveDSN(),
	}
	if cfg.GeminiAPIKey == "" {
		return nil, ErrMissingCredential
	}

	temp, err := strconv.ParseFloat(getEnv("RATING_TEMPERATURE", "0.8"), 32)
	if err != nil {
		return nil, fmt.Errorf("RATING_TEMPERATURE: %w", err)
	}
	if temp < 0 || temp > 2 {
		return nil, fmt.Errorf("RATING_TEMPERATURE must be within [0, 2], got %v", temp)
	}
	cfg.RatingTemperature = float32(temp)

	ttl, err := time.ParseDuration(getEnv("SESSION_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be > 0, got %s", ttl)
	}
	cfg.SessionTTL = ttl

	keep, err := time.ParseDuration(getEnv("HISTORY_RETENTION", "720h"))
	if err != nil {
		return nil, fmt.Errorf("HISTORY_RETENTION: %w", err)
	}
	cfg.HistoryRetention = keep

	return cfg, nil
}

var postgresVars = []string{"PGHOST", "PGPORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB"}

// resolveDSN prefers DATABASE_URL and otherwise builds one from POSTGRES_* / PG*,
// filling the unset ones with defaults. Without any of them the history store stays disabled.
func resolveDSN() string {
	if v := getEnv("DATABASE_URL", ""); v != "" {
		return v
	}
	configured := false
	for _, k := range postgresVars {
		if getEnv(k, "") != "" {
			configured = true
			break
		}
	}
	if !configured {
		return ""
	}
	host := getEnv("PGHOST", "db")
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "beauty"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(host, getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "beauty"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary describes a DSN for logs without the password.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
