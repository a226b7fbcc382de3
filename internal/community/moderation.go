package community

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/permissions"
	"hoa-portal/internal/ratelimit"
)

func (h *Handler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionFlagContent, user.ID); err != nil {
		h.fail(w, r, err, "failed to flag content")
		return
	}

	var input FlagInput
	if !decodeJSON(w, r, &input) {
		return
	}
	target := FlagTarget(strings.ToUpper(strings.TrimSpace(input.TargetType)))
	if _, ok := flagTargetHOA[target]; !ok {
		writeError(w, http.StatusBadRequest, "targetType must be REVIEW, POST, COMMENT or USER")
		return
	}
	input.TargetID = strings.TrimSpace(input.TargetID)
	if _, err := uuid.Parse(input.TargetID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if !validLength(input.Reason, 10, 500) {
		writeError(w, http.StatusBadRequest, "reason must be 10 to 500 characters")
		return
	}

	flag, err := h.repo.CreateFlag(r.Context(), user.ID, target, input.TargetID, input.Reason)
	if err != nil {
		if errors.Is(err, ErrFlagTargetNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.fail(w, r, err, "failed to flag content")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionFlagContent,
		TargetType: string(target),
		TargetID:   input.TargetID,
		Metadata:   map[string]any{"flag_id": flag.ID},
	})

	writeJSON(w, http.StatusCreated, flag)
}

// ListAllFlags is the platform-wide moderation queue.
func (h *Handler) ListAllFlags(w http.ResponseWriter, r *http.Request) {
	if !h.requirePlatformAdmin(w, r) {
		return
	}

	flags, err := h.repo.ListOpenFlags(r.Context(), "")
	if err != nil {
		h.fail(w, r, err, "failed to list flags")
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *Handler) ListHOAFlags(w http.ResponseWriter, r *http.Request) {
	_, hoaID, ok := h.requireModerator(w, r, "failed to list flags")
	if !ok {
		return
	}

	flags, err := h.repo.ListOpenFlags(r.Context(), hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to list flags")
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *Handler) ResolveHOAFlag(w http.ResponseWriter, r *http.Request) {
	user, hoaID, ok := h.requireModerator(w, r, "failed to resolve flag")
	if !ok {
		return
	}
	h.resolveFlag(w, r, user, hoaID)
}

// ResolveFlag lets platform admins close any flag, including USER flags that
// belong to no HOA.
func (h *Handler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	if !h.requirePlatformAdmin(w, r) {
		return
	}
	h.resolveFlag(w, r, auth.UserFromContext(r.Context()), "")
}

func (h *Handler) resolveFlag(w http.ResponseWriter, r *http.Request, user *auth.User, hoaID string) {
	flagID, ok := pathID(w, r, "flagId", "invalid flag id")
	if !ok {
		return
	}

	flag, err := h.repo.ResolveFlag(r.Context(), flagID, hoaID, user.ID)
	if err != nil {
		h.failLookup(w, r, err, "open flag not found", "failed to resolve flag")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionResolveFlag,
		TargetType: "FLAG",
		TargetID:   flag.ID,
		Metadata:   map[string]any{"target_type": string(flag.TargetType), "target_id": flag.TargetID},
	})

	writeJSON(w, http.StatusOK, flag)
}

// requireModerator lets HOA admins and platform admins through for the HOA
// in the {id} path segment.
func (h *Handler) requireModerator(w http.ResponseWriter, r *http.Request, failure string) (*auth.User, string, bool) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return nil, "", false
	}
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return nil, "", false
	}
	if permissions.IsPlatformAdmin(user) {
		return user, hoaID, true
	}

	allowed, err := h.authority.CanModerate(r.Context(), user.ID, hoaID)
	if err != nil {
		h.fail(w, r, err, failure)
		return nil, "", false
	}
	if !allowed {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return nil, "", false
	}
	return user, hoaID, true
}

func (h *Handler) requirePlatformAdmin(w http.ResponseWriter, r *http.Request) bool {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return false
	}
	if err := permissions.RequirePlatformAdmin(user); err != nil {
		permissions.WriteDenied(w, err)
		return false
	}
	return true
}
