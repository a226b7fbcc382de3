package community

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

const maxJSONBodyBytes = 1 << 20

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
	uploader  DocumentUploader
}

// NewHandler accepts a nil uploader; document creation then only takes links.
func NewHandler(repo *Repository, authority *permissions.Authority, limiter Enforcer, auditor Auditor, uploader DocumentUploader) *Handler {
	return &Handler{repo: repo, authority: authority, limiter: limiter, audit: auditor, uploader: uploader}
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	user, hoaID, ok := h.requireCreator(w, r, "failed to create post")
	if !ok {
		return
	}

	var input PostInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)
	if !validLength(input.Title, 5, 200) {
		writeError(w, http.StatusBadRequest, "title must be 5 to 200 characters")
		return
	}
	if !validLength(input.Body, 10, 10000) {
		writeError(w, http.StatusBadRequest, "body must be 10 to 10000 characters")
		return
	}
	visibility, ok := parseVisibility(input.Visibility)
	if !ok {
		writeError(w, http.StatusBadRequest, "visibility must be PUBLIC or PRIVATE")
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionPostCreation, user.ID); err != nil {
		h.fail(w, r, err, "failed to create post")
		return
	}

	post, err := h.repo.CreatePost(r.Context(), hoaID, user.ID, input, visibility)
	if err != nil {
		h.fail(w, r, err, "failed to create post")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionCreatePost,
		TargetType: "POST",
		TargetID:   post.ID,
		Metadata:   map[string]any{"hoa_id": hoaID, "visibility": string(visibility)},
	})

	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return
	}
	includePrivate, err := h.canViewPrivate(r, hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to list posts")
		return
	}

	posts, err := h.repo.ListPosts(r.Context(), hoaID, includePrivate)
	if err != nil {
		h.fail(w, r, err, "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}
	id, ok := pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	post, err := h.repo.GetPost(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, err, "post not found", "failed to delete post")
		return
	}
	if err := h.authority.RequireCanDelete(r.Context(), user.ID, post.HOAID, post.AuthorID); err != nil {
		h.fail(w, r, err, "failed to delete post")
		return
	}
	if err := h.repo.DeletePost(r.Context(), id); err != nil {
		h.failLookup(w, r, err, "post not found", "failed to delete post")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionDeletePost,
		TargetType: "POST",
		TargetID:   id,
		Metadata:   map[string]any{"hoa_id": post.HOAID, "author_id": post.AuthorID},
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}
	postID, ok := pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	var input CommentInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Body = strings.TrimSpace(input.Body)
	if !validLength(input.Body, 1, 2000) {
		writeError(w, http.StatusBadRequest, "body must be 1 to 2000 characters")
		return
	}

	post, err := h.repo.GetPost(r.Context(), postID)
	if err != nil {
		h.failLookup(w, r, err, "post not found", "failed to create comment")
		return
	}
	if err := h.requireCanCreate(r.Context(), user.ID, post.HOAID); err != nil {
		h.fail(w, r, err, "failed to create comment")
		return
	}

	if err := h.limiter.Enforce(r.Context(), ratelimit.ActionCommentCreation, user.ID); err != nil {
		h.fail(w, r, err, "failed to create comment")
		return
	}

	comment, err := h.repo.CreateComment(r.Context(), post, user.ID, input.Body)
	if err != nil {
		h.fail(w, r, err, "failed to create comment")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionCreateComment,
		TargetType: "COMMENT",
		TargetID:   comment.ID,
		Metadata:   map[string]any{"hoa_id": post.HOAID, "post_id": post.ID},
	})

	writeJSON(w, http.StatusCreated, comment)
}

// ListComments hides comments on private posts from non-members as if the
// post did not exist.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	post, err := h.repo.GetPost(r.Context(), postID)
	if err != nil {
		h.failLookup(w, r, err, "post not found", "failed to list comments")
		return
	}
	if post.Visibility == VisibilityPrivate {
		allowed, err := h.canViewPrivate(r, post.HOAID)
		if err != nil {
			h.fail(w, r, err, "failed to list comments")
			return
		}
		if !allowed {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
	}

	comments, err := h.repo.ListComments(r.Context(), postID)
	if err != nil {
		h.fail(w, r, err, "failed to list comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}
	id, ok := pathID(w, r, "id", "invalid comment id")
	if !ok {
		return
	}

	comment, err := h.repo.GetComment(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, err, "comment not found", "failed to delete comment")
		return
	}
	if err := h.authority.RequireCanDelete(r.Context(), user.ID, comment.HOAID, comment.AuthorID); err != nil {
		h.fail(w, r, err, "failed to delete comment")
		return
	}
	if err := h.repo.DeleteComment(r.Context(), id); err != nil {
		h.failLookup(w, r, err, "comment not found", "failed to delete comment")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionDeleteComment,
		TargetType: "COMMENT",
		TargetID:   id,
		Metadata:   map[string]any{"hoa_id": comment.HOAID, "post_id": comment.PostID},
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, hoaID, ok := h.requireCreator(w, r, "failed to create event")
	if !ok {
		return
	}

	var input EventInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Location = strings.TrimSpace(input.Location)
	input.Description = strings.TrimSpace(input.Description)
	if !validLength(input.Title, 5, 200) {
		writeError(w, http.StatusBadRequest, "title must be 5 to 200 characters")
		return
	}
	if input.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "startsAt is required")
		return
	}
	if input.EndsAt != nil && input.EndsAt.Before(input.StartsAt) {
		writeError(w, http.StatusBadRequest, "endsAt must not be before startsAt")
		return
	}
	if !validLength(input.Location, 0, 200) {
		writeError(w, http.StatusBadRequest, "location must be at most 200 characters")
		return
	}
	if !validLength(input.Description, 0, 2000) {
		writeError(w, http.StatusBadRequest, "description must be at most 2000 characters")
		return
	}
	visibility, ok := parseVisibility(input.Visibility)
	if !ok {
		writeError(w, http.StatusBadRequest, "visibility must be PUBLIC or PRIVATE")
		return
	}

	event, err := h.repo.CreateEvent(r.Context(), hoaID, user.ID, input, visibility)
	if err != nil {
		h.fail(w, r, err, "failed to create event")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionCreateEvent,
		TargetType: "EVENT",
		TargetID:   event.ID,
		Metadata:   map[string]any{"hoa_id": hoaID, "starts_at": event.StartsAt},
	})

	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return
	}
	includePrivate, err := h.canViewPrivate(r, hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to list events")
		return
	}

	events, err := h.repo.ListEvents(r.Context(), hoaID, includePrivate)
	if err != nil {
		h.fail(w, r, err, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// requireCreator authenticates the caller and checks they may post in the
// HOA named by the {id} path segment.
func (h *Handler) requireCreator(w http.ResponseWriter, r *http.Request, failure string) (*auth.User, string, bool) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return nil, "", false
	}
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return nil, "", false
	}
	if err := h.requireCanCreate(r.Context(), user.ID, hoaID); err != nil {
		h.fail(w, r, err, failure)
		return nil, "", false
	}
	return user, hoaID, true
}

func (h *Handler) requireCanCreate(ctx context.Context, userID, hoaID string) error {
	ok, err := h.authority.CanCreateContent(ctx, userID, hoaID)
	if err != nil {
		return err
	}
	if !ok {
		return permissions.ErrMembershipRequired
	}
	return nil
}

func (h *Handler) canViewPrivate(r *http.Request, hoaID string) (bool, error) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return false, nil
	}
	return h.authority.CanViewPrivateContent(r.Context(), user.ID, hoaID)
}

func (h *Handler) failLookup(w http.ResponseWriter, r *http.Request, err error, notFound, failure string) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	h.fail(w, r, err, failure)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if permissions.WriteDenied(w, err) || ratelimit.WriteExceeded(w, err) {
		return
	}
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusInternalServerError, message)
}

func pathID(w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, message)
		return "", false
	}
	return id, true
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
