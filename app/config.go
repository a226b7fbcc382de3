package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	rateLimitBackendPostgres = "postgres"
	rateLimitBackendRedis    = "redis"
)

type Config struct {
	Environment   string
	Release       string
	DatabaseURL   string
	JWTSecret     string
	PublicBaseURL string
	SentryDSN     string
	CronSecret    string
	CloudinaryURL string

	RateLimitBackend string
	RedisURL         string

	PlatformAdminEmails []string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MagicLinkTTL    time.Duration

	RefreshTokenRetention time.Duration
	MagicLinkRetention    time.Duration
	CleanupBatchSize      int
}

// LoadConfig reads the process environment. Only DATABASE_URL and JWT_SECRET
// are required.
func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:   envOrDefault("APP_ENV", "development"),
		Release:       envOrDefault("SENTRY_RELEASE", os.Getenv("VERCEL_GIT_COMMIT_SHA")),
		DatabaseURL:   databaseURL,
		JWTSecret:     jwtSecret,
		PublicBaseURL: envOrDefault("PUBLIC_BASE_URL", "http://localhost:3000"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		CronSecret:    os.Getenv("CRON_SECRET"),
		CloudinaryURL: strings.TrimSpace(os.Getenv("CLOUDINARY_URL")),

		RateLimitBackend: strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", rateLimitBackendPostgres)),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),

		PlatformAdminEmails: envList("PLATFORM_ADMIN_EMAILS"),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		AccessTokenTTL:  envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTL: envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		MagicLinkTTL:    envMinutesOrDefault("MAGIC_LINK_TTL_MINUTES", 15),

		RefreshTokenRetention: envDaysOrDefault("AUTH_REFRESH_TOKEN_RETENTION_DAYS", 14),
		MagicLinkRetention:    envDaysOrDefault("AUTH_MAGIC_LINK_RETENTION_DAYS", 7),
		CleanupBatchSize:      envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	}

	switch cfg.RateLimitBackend {
	case rateLimitBackendPostgres:
	case rateLimitBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", cfg.RateLimitBackend)
	}

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envList(name string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
