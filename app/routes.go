package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/community"
	"hoa-portal/internal/hoa"
	"hoa-portal/internal/maintenance"
	"hoa-portal/internal/membership"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/permissions"
	"hoa-portal/internal/ratelimit"
	"hoa-portal/internal/review"
)

type routerDeps struct {
	config      Config
	database    *sql.DB
	logger      *observability.Logger
	limiter     *ratelimit.Limiter
	authRepo    *auth.Repository
	authService *auth.Service
	uploader    community.DocumentUploader
}

func newRouter(deps routerDeps) http.Handler {
	cfg := deps.config
	auditor := audit.NewRecorder(deps.database, deps.logger)

	membershipRepo := membership.NewRepository(deps.database)
	authority := permissions.NewAuthority(membershipRepo)

	authHandler := auth.NewHandler(deps.authService, deps.limiter)
	membershipHandler := membership.NewHandler(membershipRepo, authority, deps.limiter, auditor)
	hoaHandler := hoa.NewHandler(hoa.NewRepository(deps.database), authority, auditor)
	reviewHandler := review.NewHandler(review.NewRepository(deps.database), authority, deps.limiter, auditor)
	communityHandler := community.NewHandler(community.NewRepository(deps.database), authority, deps.limiter, auditor, deps.uploader)
	cleanupHandler := maintenance.NewCleanupHandler(
		deps.authRepo,
		deps.limiter,
		deps.logger,
		cfg.CronSecret,
		cfg.RefreshTokenRetention,
		cfg.MagicLinkRetention,
		cfg.CleanupBatchSize,
	)

	required := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(deps.authService, deps.authRepo, h)
	}
	optional := func(h http.HandlerFunc) http.Handler {
		return auth.OptionalMiddleware(deps.authService, deps.authRepo, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/magic-link", authHandler.RequestMagicLink)
	mux.HandleFunc("POST /auth/magic-link/verify", authHandler.VerifyMagicLink)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("GET /auth/me", required(authHandler.Me))
	mux.Handle("GET /me", required(membershipHandler.Me))

	mux.Handle("GET /hoas/search", deps.limiter.Middleware(ratelimit.ActionSearch, optional(hoaHandler.Search)))
	mux.Handle("GET /hoas/{slug}", optional(hoaHandler.GetBySlug))
	mux.Handle("PATCH /hoas/{id}", required(hoaHandler.UpdateSettings))
	mux.Handle("GET /hoas/{id}/analytics", required(hoaHandler.Analytics))
	mux.Handle("GET /hoas/{id}/members", required(membershipHandler.ListMembers))

	mux.Handle("POST /memberships", required(membershipHandler.Request))
	mux.Handle("POST /memberships/{id}/decision", required(membershipHandler.Decide))

	mux.Handle("POST /reviews", required(reviewHandler.Create))
	mux.HandleFunc("GET /reviews", reviewHandler.List)
	mux.Handle("POST /reviews/{id}/responses", required(reviewHandler.Respond))
	mux.Handle("GET /moderation/reviews", required(reviewHandler.Pending))
	mux.Handle("POST /moderation/reviews/{id}", required(reviewHandler.Moderate))

	mux.Handle("POST /hoas/{id}/posts", required(communityHandler.CreatePost))
	mux.Handle("GET /hoas/{id}/posts", optional(communityHandler.ListPosts))
	mux.Handle("DELETE /posts/{id}", required(communityHandler.DeletePost))
	mux.Handle("POST /posts/{id}/comments", required(communityHandler.CreateComment))
	mux.Handle("GET /posts/{id}/comments", optional(communityHandler.ListComments))
	mux.Handle("DELETE /comments/{id}", required(communityHandler.DeleteComment))
	mux.Handle("POST /hoas/{id}/events", required(communityHandler.CreateEvent))
	mux.Handle("GET /hoas/{id}/events", optional(communityHandler.ListEvents))
	mux.Handle("POST /hoas/{id}/documents", required(communityHandler.CreateDocument))
	mux.Handle("GET /hoas/{id}/documents", optional(communityHandler.ListDocuments))

	mux.Handle("POST /flags", required(communityHandler.CreateFlag))
	mux.Handle("GET /moderation/flags", required(communityHandler.ListAllFlags))
	mux.Handle("POST /moderation/flags/{flagId}/resolve", required(communityHandler.ResolveFlag))
	mux.Handle("GET /hoas/{id}/flags", required(communityHandler.ListHOAFlags))
	mux.Handle("POST /hoas/{id}/flags/{flagId}/resolve", required(communityHandler.ResolveHOAFlag))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.database))

	return observability.RecoverMiddleware(deps.logger, observability.RequestLoggingMiddleware(deps.logger, mux))
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
