package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	APIToken string

	ChatBaseURL       string
	ChatSessionURL    string
	ChatSessionCookie string
	HTTPTimeout       time.Duration

	TokenStore  string // file, postgres or memory
	TokenFile   string
	DatabaseURL string

	ExportTarget string // dir or postgres
	OutputDir    string

	NatsURL   string
	NatsToken string

	SlackBotToken string
	SlackChannel  string

	StartOffset      int
	StopOffset       int // -1 means no stop
	PacingDelay      time.Duration
	RateLimitBackoff time.Duration
	FetchMaxAttempts int
}

func Load() Config {
	return Config{
		Port:     envInt("ARCHIVIST_PORT", 8760),
		LogLevel: envStr("LOG_LEVEL", "info"),
		APIToken: envStr("ARCHIVIST_API_TOKEN", ""),

		ChatBaseURL:       envStr("CHAT_BASE_URL", "https://chat.openai.com/backend-api"),
		ChatSessionURL:    envStr("CHAT_SESSION_URL", "https://chat.openai.com/api/auth/session"),
		ChatSessionCookie: envStr("CHAT_SESSION_COOKIE", ""),
		HTTPTimeout:       envDuration("HTTP_TIMEOUT", 60*time.Second),

		TokenStore:  envStr("TOKEN_STORE", "file"),
		TokenFile:   envStr("TOKEN_FILE", "~/.archivist/storage.json"),
		DatabaseURL: envStr("DATABASE_URL", ""),

		ExportTarget: envStr("EXPORT_TARGET", "dir"),
		OutputDir:    envStr("OUTPUT_DIR", "."),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),

		StartOffset:      envInt("BACKUP_START_OFFSET", 0),
		StopOffset:       envInt("BACKUP_STOP_OFFSET", -1),
		PacingDelay:      envDuration("PACING_DELAY", time.Second),
		RateLimitBackoff: envDuration("RATE_LIMIT_BACKOFF", 30*time.Second),
		FetchMaxAttempts: envInt("FETCH_MAX_ATTEMPTS", 3),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
