// Package app builds the HTTP runtime shared by the long-running server and
// the serverless entrypoint.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"hoa-portal/internal/auth"
	"hoa-portal/internal/community"
	"hoa-portal/internal/db"
	"hoa-portal/internal/media"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/ratelimit"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	store, closeStore, err := newRateLimitStore(ctx, cfg, database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	limiter := ratelimit.NewLimiter(store, ratelimit.DefaultRules(), logger)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, auth.NewLogMailer(logger, cfg.Environment), cfg.JWTSecret, cfg.PublicBaseURL)
	authService.WithTokenConfig(cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.MagicLinkTTL)

	closeAll := func() error {
		observability.FlushSentry()
		return errors.Join(closeStore(), database.Close())
	}

	if err := authService.BootstrapPlatformAdmins(ctx, cfg.PlatformAdminEmails); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap platform admins: %w", err)
	}

	// Without CLOUDINARY_URL the uploader stays nil and file uploads answer 503.
	var uploader community.DocumentUploader
	if cfg.CloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			_ = closeAll()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		uploader = cloudinaryClient
	}

	handler := newRouter(routerDeps{
		config:      cfg,
		database:    database,
		logger:      logger,
		limiter:     limiter,
		authRepo:    authRepo,
		authService: authService,
		uploader:    uploader,
	})

	logger.Info("app_initialized", map[string]any{
		"environment":        cfg.Environment,
		"rate_limit_backend": cfg.RateLimitBackend,
		"document_uploads":   uploader != nil,
	})

	return &Runtime{
		Handler: handler,
		Close:   closeAll,
	}, nil
}

func newRateLimitStore(ctx context.Context, cfg Config, database *sql.DB) (ratelimit.Store, func() error, error) {
	if cfg.RateLimitBackend != rateLimitBackendRedis {
		return ratelimit.NewPostgresStore(database), func() error { return nil }, nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return ratelimit.NewRedisStore(client, ""), client.Close, nil
}
