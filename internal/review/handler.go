package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/hoa"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/permissions"
	"hoa-portal/internal/ratelimit"
)

const (
	maxJSONBodyBytes   = 1 << 20
	defaultListLimit   = 10
	maxListLimit       = 50
	moderationPageSize = 100
)

type Enforcer interface {
	Enforce(ctx context.Context, action ratelimit.Action, identifier string, discriminator ...string) error
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Handler struct {
	repo      *Repository
	authority *permissions.Authority
	limiter   Enforcer
	audit     Auditor
}

func NewHandler(repo *Repository, authority *permissions.Authority, limiter Enforcer, auditor Auditor) *Handler {
	return &Handler{repo: repo, authority: authority, limiter: limiter, audit: auditor}
}

type listResponse struct {
	Reviews    []Review       `json:"reviews"`
	Pagination hoa.Pagination `json:"pagination"`
}

type responseInput struct {
	Text string `json:"text"`
}

type moderationInput struct {
	Action string `json:"action"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionReviewSubmission, user.ID); err != nil {
		h.fail(w, r, err, "failed to create review")
		return
	}

	var input CreateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.HOAID = strings.TrimSpace(input.HOAID)
	input.Text = strings.TrimSpace(input.Text)
	if _, err := uuid.Parse(input.HOAID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}
	if input.Stars < 1 || input.Stars > 5 {
		writeError(w, http.StatusBadRequest, "stars must be between 1 and 5")
		return
	}
	if input.Text != "" && !validLength(input.Text, 10, 2000) {
		writeError(w, http.StatusBadRequest, "text must be 10 to 2000 characters")
		return
	}

	exists, err := h.repo.HOAExists(r.Context(), input.HOAID)
	if err != nil {
		h.fail(w, r, err, "failed to create review")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "hoa not found")
		return
	}

	rv, err := h.repo.Create(r.Context(), user.ID, input)
	if err != nil {
		if errors.Is(err, ErrAlreadyReviewed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.fail(w, r, err, "failed to create review")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionCreateReview,
		TargetType: "REVIEW",
		TargetID:   rv.ID,
		Metadata:   map[string]any{"hoa_id": rv.HOAID, "stars": rv.Stars, "is_anonymous": rv.IsAnonymous},
	})

	writeJSON(w, http.StatusCreated, rv)
}

// List returns approved reviews only.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hoaID := strings.TrimSpace(q.Get("hoaId"))
	if hoaID == "" {
		writeError(w, http.StatusBadRequest, "hoaId is required")
		return
	}
	if _, err := uuid.Parse(hoaID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}

	page := 1
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	limit := defaultListLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxListLimit)
	}

	reviews, total, err := h.repo.ListApproved(r.Context(), hoaID, page, limit)
	if err != nil {
		h.fail(w, r, err, "failed to list reviews")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Reviews: reviews, Pagination: hoa.NewPagination(page, limit, total)})
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	var input responseInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Text = strings.TrimSpace(input.Text)
	if !validLength(input.Text, 10, 1000) {
		writeError(w, http.StatusBadRequest, "text must be 10 to 1000 characters")
		return
	}

	rv, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "review not found")
			return
		}
		h.fail(w, r, err, "failed to respond to review")
		return
	}

	canReply, err := h.authority.CanReplyToReview(r.Context(), user.ID, rv.HOAID)
	if err != nil {
		h.fail(w, r, err, "failed to respond to review")
		return
	}
	if !canReply {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return
	}

	resp, err := h.repo.AddResponse(r.Context(), rv.ID, user.ID, input.Text)
	if err != nil {
		h.fail(w, r, err, "failed to respond to review")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionRespondReview,
		TargetType: "REVIEW",
		TargetID:   rv.ID,
		Metadata:   map[string]any{"hoa_id": rv.HOAID, "response_id": resp.ID},
	})

	writeJSON(w, http.StatusCreated, resp)
}

// Pending is the platform moderation queue, oldest first.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	if err := permissions.RequirePlatformAdmin(auth.UserFromContext(r.Context())); err != nil {
		h.denyPlatform(w, r, err)
		return
	}

	reviews, err := h.repo.ListPending(r.Context(), moderationPageSize)
	if err != nil {
		h.fail(w, r, err, "failed to list pending reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := permissions.RequirePlatformAdmin(user); err != nil {
		h.denyPlatform(w, r, err)
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	var input moderationInput
	if !decodeJSON(w, r, &input) {
		return
	}
	var status permissions.Status
	switch strings.ToUpper(strings.TrimSpace(input.Action)) {
	case "APPROVE":
		status = permissions.StatusApproved
	case "REJECT":
		status = permissions.StatusRejected
	default:
		writeError(w, http.StatusBadRequest, "action must be APPROVE or REJECT")
		return
	}

	if err := h.repo.SetStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "review not found")
			return
		}
		h.fail(w, r, err, "failed to moderate review")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionModerateReview,
		TargetType: "REVIEW",
		TargetID:   id,
		Metadata:   map[string]any{"status": string(status)},
	})

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// denyPlatform answers 401 for anonymous callers and 403 otherwise.
func (h *Handler) denyPlatform(w http.ResponseWriter, r *http.Request, err error) {
	if auth.UserFromContext(r.Context()) == nil {
		err = permissions.ErrAuthenticationRequired
	}
	permissions.WriteDenied(w, err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if permissions.WriteDenied(w, err) || ratelimit.WriteExceeded(w, err) {
		return
	}
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusInternalServerError, message)
}

func validLength(value string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(value)
	return utf8.ValidString(value) && n >= minLen && n <= maxLen
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
	writeJSON(w, status, map[string]string{"error": message})
}
