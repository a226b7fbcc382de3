package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hoa-portal/internal/observability"
	"hoa-portal/internal/ratelimit"
)

const maxJSONBodyBytes = 1 << 20

type Enforcer interface {
	Enforce(ctx context.Context, action ratelimit.Action, identifier string, discriminator ...string) error
}

type Handler struct {
	service *Service
	limiter Enforcer
}

func NewHandler(service *Service, limiter Enforcer) *Handler {
	return &Handler{service: service, limiter: limiter}
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type verifyResponse struct {
	Tokens
	User User `json:"user"`
}

func (h *Handler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var body magicLinkRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	email, err := NormalizeEmail(body.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionMagicLinkRequest, email); err != nil {
		if ratelimit.WriteExceeded(w, err) {
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to request sign-in link")
		return
	}

	if err := h.service.RequestMagicLink(r.Context(), email); err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to request sign-in link")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, user, err := h.service.VerifyMagicLink(r.Context(), body.Token)
	if err != nil {
		if errors.Is(err, ErrInvalidMagicLink) {
			writeError(w, http.StatusUnauthorized, "invalid or expired sign-in link")
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Tokens: tokens, User: user})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
