package hoa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/permissions"
)

const (
	maxJSONBodyBytes   = 1 << 20
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Handler struct {
	repo      *Repository
	authority *permissions.Authority
	audit     Auditor
}

func NewHandler(repo *Repository, authority *permissions.Authority, auditor Auditor) *Handler {
	return &Handler{repo: repo, authority: authority, audit: auditor}
}

type searchResponse struct {
	HOAs       []HOA      `json:"hoas"`
	Pagination Pagination `json:"pagination"`
}

type profileResponse struct {
	HOA
	Viewer viewer `json:"viewer"`
}

type viewer struct {
	IsMember bool `json:"is_member"`
	IsAdmin  bool `json:"is_admin"`
}

// Search is public. The SEARCH rate limit is applied by the router.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params, msg := parseSearchParams(r.URL.Query())
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hoas, total, err := h.repo.Search(r.Context(), params)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to search hoas")
		return
	}
	for i := range hoas {
		hoas[i].DescriptionPrivate = ""
	}

	writeJSON(w, http.StatusOK, searchResponse{
		HOAs:       hoas,
		Pagination: NewPagination(params.Page, params.Limit, total),
	})
}

func parseSearchParams(q url.Values) (SearchParams, string) {
	params := SearchParams{
		Query:    strings.TrimSpace(q.Get("q")),
		State:    strings.TrimSpace(q.Get("state")),
		City:     strings.TrimSpace(q.Get("city")),
		Location: strings.TrimSpace(q.Get("location")),
		Page:     1,
		Limit:    defaultSearchLimit,
	}

	if raw := strings.TrimSpace(q.Get("ratingMin")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 1 || v > 5 {
			return SearchParams{}, "ratingMin must be between 1 and 5"
		}
		params.RatingMin = v
	}
	if raw := strings.TrimSpace(q.Get("amenities")); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				params.Amenities = append(params.Amenities, a)
			}
		}
	}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return SearchParams{}, "page must be >= 1"
		}
		params.Page = v
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxSearchLimit {
			return SearchParams{}, "limit must be between 1 and 50"
		}
		params.Limit = v
	}

	return params, ""
}

// GetBySlug returns the public profile. The private description is only
// included for approved members.
func (h *Handler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeError(w, http.StatusBadRequest, "invalid slug")
		return
	}

	hoa, err := h.repo.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "hoa not found")
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to load hoa")
		return
	}

	var v viewer
	if user := auth.UserFromContext(r.Context()); user != nil {
		m, err := h.authority.GetMembership(r.Context(), user.ID, hoa.ID)
		if err != nil {
			observability.CaptureRequestError(r, err)
			writeError(w, http.StatusInternalServerError, "failed to load hoa")
			return
		}
		v.IsMember = m.Approved()
		v.IsAdmin = m.Approved() && m.Role.Elevated()
	}
	if !v.IsMember {
		hoa.DescriptionPrivate = ""
	}

	writeJSON(w, http.StatusOK, profileResponse{HOA: hoa, Viewer: v})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}

	input, ok := parseSettings(w, r)
	if !ok {
		return
	}

	canEdit, err := h.authority.CanEditSettings(r.Context(), user.ID, id)
	if err != nil {
		h.fail(w, r, err, "failed to update hoa")
		return
	}
	if !canEdit {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return
	}

	if err := h.repo.UpdateSettings(r.Context(), id, input); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "hoa not found")
			return
		}
		h.fail(w, r, err, "failed to update hoa")
		return
	}

	hoa, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "failed to update hoa")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionUpdateHOA,
		TargetType: "HOA",
		TargetID:   id,
		Metadata:   map[string]any{"fields": changedFields(input)},
	})

	writeJSON(w, http.StatusOK, hoa)
}

func parseSettings(w http.ResponseWriter, r *http.Request) (SettingsInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input SettingsInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return SettingsInput{}, false
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if n := utf8.RuneCountInString(name); !utf8.ValidString(name) || n < 2 || n > 200 {
			writeError(w, http.StatusBadRequest, "name must be 2 to 200 characters")
			return SettingsInput{}, false
		}
		input.Name = &name
	}
	for field, value := range map[string]*string{
		"descriptionPublic":  input.DescriptionPublic,
		"descriptionPrivate": input.DescriptionPrivate,
	} {
		if value != nil && (!utf8.ValidString(*value) || utf8.RuneCountInString(*value) > 2000) {
			writeError(w, http.StatusBadRequest, field+" must be at most 2000 characters")
			return SettingsInput{}, false
		}
	}
	if input.Location != nil && utf8.RuneCountInString(*input.Location) > 200 {
		writeError(w, http.StatusBadRequest, "location must be at most 200 characters")
		return SettingsInput{}, false
	}
	if input.Amenities != nil {
		cleaned := make([]string, 0, len(*input.Amenities))
		for _, a := range *input.Amenities {
			if a = strings.TrimSpace(a); a != "" {
				cleaned = append(cleaned, a)
			}
		}
		input.Amenities = &cleaned
	}
	if input.UnitCount != nil && *input.UnitCount < 1 {
		writeError(w, http.StatusBadRequest, "unitCount must be >= 1")
		return SettingsInput{}, false
	}

	return input, true
}

func changedFields(input SettingsInput) []string {
	fields := make([]string, 0, 6)
	if input.Name != nil {
		fields = append(fields, "name")
	}
	if input.DescriptionPublic != nil {
		fields = append(fields, "descriptionPublic")
	}
	if input.DescriptionPrivate != nil {
		fields = append(fields, "descriptionPrivate")
	}
	if input.Location != nil {
		fields = append(fields, "location")
	}
	if input.Amenities != nil {
		fields = append(fields, "amenities")
	}
	if input.UnitCount != nil {
		fields = append(fields, "unitCount")
	}
	return fields
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid hoa id")
		return
	}

	allowed, err := h.authority.CanViewAnalytics(r.Context(), user.ID, id)
	if err != nil {
		h.fail(w, r, err, "failed to load analytics")
		return
	}
	if !allowed {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return
	}

	analytics, err := h.repo.Analytics(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "failed to load analytics")
		return
	}

	writeJSON(w, http.StatusOK, analytics)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if permissions.WriteDenied(w, err) {
		return
	}
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
