// Package maintenance exposes the cron-triggered cleanup endpoint.
package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"hoa-portal/internal/auth"
	"hoa-portal/internal/observability"
)

type AuthCleaner interface {
	CleanupStaleAuthData(ctx context.Context, refreshRetention, magicLinkRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type RateLimitPurger interface {
	PurgeStale(ctx context.Context) (int64, error)
}

type CleanupResult struct {
	auth.CleanupResult
	DeletedRateLimits int64 `json:"deleted_rate_limits"`
}

type CleanupHandler struct {
	auth               AuthCleaner
	rateLimits         RateLimitPurger
	logger             *observability.Logger
	cronSecret         string
	refreshRetention   time.Duration
	magicLinkRetention time.Duration
	batchSize          int
}

func NewCleanupHandler(
	authCleaner AuthCleaner,
	rateLimits RateLimitPurger,
	logger *observability.Logger,
	cronSecret string,
	refreshRetention time.Duration,
	magicLinkRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		auth:               authCleaner,
		rateLimits:         rateLimits,
		logger:             logger,
		cronSecret:         strings.TrimSpace(cronSecret),
		refreshRetention:   refreshRetention,
		magicLinkRetention: magicLinkRetention,
		batchSize:          batchSize,
	}
}

// Handle is hidden (404) unless CRON_SECRET is configured.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var result CleanupResult

	authResult, err := h.auth.CleanupStaleAuthData(r.Context(), h.refreshRetention, h.magicLinkRetention, h.batchSize)
	if err != nil {
		observability.CaptureRequestError(r, err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}
	result.CleanupResult = authResult

	result.DeletedRateLimits, err = h.rateLimits.PurgeStale(r.Context())
	if err != nil {
		observability.CaptureRequestError(r, err)
		h.logger.Error("rate_limit_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("maintenance_cleanup_completed", map[string]any{
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
		"deleted_magic_links":    result.DeletedMagicLinks,
		"deleted_rate_limits":    result.DeletedRateLimits,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
