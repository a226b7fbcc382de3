package community

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/observability"
	"hoa-portal/internal/permissions"
)

const maxDocumentBytes = 20 << 20

var (
	allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
	allowedHost     = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
)

type DocumentUploader interface {
	UploadFromURL(ctx context.Context, hoaID, sourceURL string) (string, error)
	UploadFile(ctx context.Context, hoaID, filename string, content io.Reader) (string, error)
}

// CreateDocument accepts either JSON {title, url, visibility} or a multipart
// form with a "file" part. Files always go through the uploader; links are
// mirrored when an uploader is configured and stored as given otherwise.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	user, err := permissions.RequireAuth(auth.UserFromContext(r.Context()))
	if err != nil {
		permissions.WriteDenied(w, err)
		return
	}
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return
	}

	canEdit, err := h.authority.CanEditSettings(r.Context(), user.ID, hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to create document")
		return
	}
	if !canEdit {
		permissions.WriteDenied(w, permissions.ErrAdminRequired)
		return
	}

	var (
		input     DocumentInput
		storedURL string
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if h.uploader == nil {
			writeError(w, http.StatusServiceUnavailable, "document uploads are not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()

		input.Title = r.FormValue("title")
		input.Visibility = r.FormValue("visibility")
		if msg := validateDocument(&input, false); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		storedURL, err = h.uploader.UploadFile(r.Context(), hoaID, header.Filename, file)
		if err != nil {
			h.failUpload(w, r, err)
			return
		}
	} else {
		if !decodeJSON(w, r, &input) {
			return
		}
		if msg := validateDocument(&input, true); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		storedURL = input.URL
		if h.uploader != nil {
			storedURL, err = h.uploader.UploadFromURL(r.Context(), hoaID, input.URL)
			if err != nil {
				h.failUpload(w, r, err)
				return
			}
		}
	}

	visibility, _ := parseVisibility(input.Visibility)
	doc, err := h.repo.CreateDocument(r.Context(), hoaID, user.ID, input.Title, storedURL, visibility)
	if err != nil {
		h.fail(w, r, err, "failed to create document")
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionCreateDocument,
		TargetType: "DOCUMENT",
		TargetID:   doc.ID,
		Metadata:   map[string]any{"hoa_id": hoaID, "visibility": string(visibility)},
	})

	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	hoaID, ok := pathID(w, r, "id", "invalid hoa id")
	if !ok {
		return
	}
	includePrivate, err := h.canViewPrivate(r, hoaID)
	if err != nil {
		h.fail(w, r, err, "failed to list documents")
		return
	}

	docs, err := h.repo.ListDocuments(r.Context(), hoaID, includePrivate)
	if err != nil {
		h.fail(w, r, err, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) failUpload(w http.ResponseWriter, r *http.Request, err error) {
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusBadGateway, "failed to upload document")
}

func validateDocument(input *DocumentInput, requireURL bool) string {
	input.Title = strings.TrimSpace(input.Title)
	input.URL = strings.TrimSpace(input.URL)
	input.Visibility = strings.TrimSpace(input.Visibility)

	if !validLength(input.Title, 2, 200) {
		return "title must be 2 to 200 characters"
	}
	if _, ok := parseVisibility(input.Visibility); !ok {
		return "visibility must be PUBLIC or PRIVATE"
	}
	if !requireURL {
		return ""
	}
	return validateLink(input.URL)
}

func validateLink(link string) string {
	if link == "" {
		return "url is required"
	}
	if len(link) > 500 || !isASCII(link) || !allowedURLChars.MatchString(link) {
		return "url contains invalid characters"
	}
	parsed, err := url.ParseRequestURI(link)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "url must be a valid link"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "url must start with http or https"
	}
	if parsed.User != nil || !allowedHost.MatchString(parsed.Hostname()) {
		return "url host is invalid"
	}
	return ""
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] > 126 {
			return false
		}
	}
	return true
}
