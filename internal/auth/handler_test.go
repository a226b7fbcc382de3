package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-portal/internal/ratelimit"
)

type recordingMailer struct {
	email string
	link  string
}

func (m *recordingMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.email = email
	m.link = link
	return nil
}

type stubEnforcer struct {
	err     error
	actions []ratelimit.Action
	ids     []string
}

func (e *stubEnforcer) Enforce(ctx context.Context, action ratelimit.Action, identifier string, discriminator ...string) error {
	e.actions = append(e.actions, action)
	e.ids = append(e.ids, identifier)
	return e.err
}

func newTestHandler(t *testing.T, limiter Enforcer) (*Handler, sqlmock.Sqlmock, *recordingMailer) {
	t.Helper()
	repo, mock := newRepo(t)
	mailer := &recordingMailer{}
	svc := NewService(repo, mailer, "secret", "https://hoa.example/")
	return NewHandler(svc, limiter), mock, mailer
}

func TestRequestMagicLink_Sends(t *testing.T) {
	limiter := &stubEnforcer{}
	h, mock, mailer := newTestHandler(t, limiter)
	mock.ExpectExec("INSERT INTO auth_magic_links").
		WithArgs(sqlmock.AnyArg(), "jane@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"Jane@Example.com"}`))
	rec := httptest.NewRecorder()
	h.RequestMagicLink(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "jane@example.com", mailer.email)
	assert.True(t, strings.HasPrefix(mailer.link, "https://hoa.example/auth/verify?token="))
	assert.Equal(t, []ratelimit.Action{ratelimit.ActionMagicLinkRequest}, limiter.actions)
	assert.Equal(t, []string{"jane@example.com"}, limiter.ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestMagicLink_InvalidEmail(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	rec := httptest.NewRecorder()
	h.RequestMagicLink(rec, httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestMagicLink_RateLimited(t *testing.T) {
	limiter := &stubEnforcer{err: &ratelimit.ExceededError{Limit: 5, Count: 5, ResetTime: time.Now().Add(time.Hour)}}
	h, mock, mailer := newTestHandler(t, limiter)

	rec := httptest.NewRecorder()
	h.RequestMagicLink(rec, httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"a@b.co"}`)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, mailer.email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyMagicLink_IssuesTokens(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE auth_magic_links").
		WithArgs(hashToken("tok"), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "expires_at"}).AddRow("ml-1", "jane@example.com", now.Add(time.Minute)))
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "jane@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectQuery("FROM users u WHERE u.id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("user-1", "jane@example.com", "", "", now, now))
	mock.ExpectExec("INSERT INTO auth_refresh_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := httptest.NewRecorder()
	h.VerifyMagicLink(rec, httptest.NewRequest(http.MethodPost, "/auth/magic-link/verify", bytes.NewBufferString(`{"token":"tok"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body["token_type"])
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyMagicLink_Invalid(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("UPDATE auth_magic_links").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "expires_at"}))

	rec := httptest.NewRecorder()
	h.VerifyMagicLink(rec, httptest.NewRequest(http.MethodPost, "/auth/magic-link/verify", strings.NewReader(`{"token":"used"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyMagicLink_UnknownField(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	rec := httptest.NewRecorder()
	h.VerifyMagicLink(rec, httptest.NewRequest(http.MethodPost, "/auth/magic-link/verify", strings.NewReader(`{"token":"x","extra":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(WithUser(req.Context(), &User{ID: "user-1", Email: "a@b.co"}))
	rec = httptest.NewRecorder()
	h.Me(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"user-1"`)
}
