package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/permissions"
	"hoa-portal/internal/ratelimit"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxNoteLength    = 500
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

type requestInput struct {
	HOAID string `json:"hoaId"`
	Note  string `json:"note"`
}

type decisionInput struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionMembershipRequest, user.ID); err != nil {
		h.fail(w, r, err, "failed to request membership")
		return
	}

	var input requestInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.HOAID = strings.TrimSpace(input.HOAID)
	input.Note = strings.TrimSpace(input.Note)
	if _, err := uuid.Parse(input.HOAID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}
	if !utf8.ValidString(input.Note) || utf8.RuneCountInString(input.Note) > maxNoteLength {
		writeError(w, http.StatusBadRequest, "note is invalid")
		return
	}

	exists, err := h.repo.HOAExists(r.Context(), input.HOAID)
	if err != nil {
		h.fail(w, r, err, "failed to request membership")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "hoa not found")
		return
	}

	m, err := h.repo.Request(r.Context(), user.ID, input.HOAID, input.Note)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.fail(w, r, err, "failed to request membership")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionRequestMembership,
		TargetType: "MEMBERSHIP",
		TargetID:   m.ID,
		Metadata:   map[string]any{"hoa_id": m.HOAID, "note": m.Note},
	})

	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	var input decisionInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Reason = strings.TrimSpace(input.Reason)

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
	if !utf8.ValidString(input.Reason) || utf8.RuneCountInString(input.Reason) > maxNoteLength {
		writeError(w, http.StatusBadRequest, "reason is invalid")
		return
	}

	existing, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		h.fail(w, r, err, "failed to decide membership")
		return
	}

	if err := h.authority.RequireAdmin(r.Context(), user.ID, existing.HOAID); err != nil {
		h.fail(w, r, err, "failed to decide membership")
		return
	}

	m, err := h.repo.Decide(r.Context(), id, user.ID, status, input.Reason)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.fail(w, r, err, "failed to decide membership")
		return
	}

	action := audit.ActionApproveMembership
	if status == permissions.StatusRejected {
		action = audit.ActionRejectMembership
	}
	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     action,
		TargetType: "MEMBERSHIP",
		TargetID:   m.ID,
		Metadata:   map[string]any{"hoa_id": m.HOAID, "user_id": m.UserID, "reason": m.DecisionReason},
	})

	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	hoaID := r.PathValue("id")
	if _, err := uuid.Parse(hoaID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}

	status := permissions.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", permissions.StatusPending, permissions.StatusApproved, permissions.StatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "status is invalid")
		return
	}

	ok, err := h.authority.CanManageMembers(r.Context(), user.ID, hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to list members")
		return
	}
	if !ok {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return
	}

	members, err := h.repo.ListByHOA(r.Context(), hoaID, status)
	if err != nil {
		h.fail(w, r, err, "failed to list members")
		return
	}

	writeJSON(w, http.StatusOK, members)
}

// Me returns the caller together with every HOA relationship they have.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	memberships, err := h.repo.ListForUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err, "failed to load memberships")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"memberships": memberships,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if permissions.WriteDenied(w, err) || ratelimit.WriteExceeded(w, err) {
		return
	}
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusInternalServerError, message)
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
