package membership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-portal/internal/audit"
	"hoa-portal/internal/auth"
	"hoa-portal/internal/permissions"
	"hoa-portal/internal/ratelimit"
)

const (
	testHOAID        = "0195a1b2-0000-7000-8000-000000000001"
	testMembershipID = "0195a1b2-0000-7000-8000-0000000000aa"
)

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

type recordingAuditor struct {
	entries []audit.Entry
}

func (a *recordingAuditor) Record(ctx context.Context, entry audit.Entry) {
	a.entries = append(a.entries, entry)
}

func newTestHandler(t *testing.T, limiter Enforcer) (*Handler, sqlmock.Sqlmock, *recordingAuditor) {
	t.Helper()
	repo, mock := newRepo(t)
	auditor := &recordingAuditor{}
	return NewHandler(repo, permissions.NewAuthority(repo), limiter, auditor), mock, auditor
}

func asUser(r *http.Request, id string) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), &auth.User{ID: id, Roles: []string{}}))
}

func TestRequest_Unauthenticated(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	rec := httptest.NewRecorder()
	h.Request(rec, httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequest_Created(t *testing.T) {
	limiter := &stubEnforcer{}
	h, mock, auditor := newTestHandler(t, limiter)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testHOAID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(sqlmock.AnyArg(), "user-1", testHOAID, "I live at 12", fixedNow).
		WillReturnRows(membershipRow("m-1", "user-1", testHOAID, permissions.RoleMember, permissions.StatusPending))

	body := `{"hoaId":"` + testHOAID + `","note":" I live at 12 "}`
	rec := httptest.NewRecorder()
	h.Request(rec, asUser(httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(body)), "user-1"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"PENDING"`)
	assert.Equal(t, []ratelimit.Action{ratelimit.ActionMembershipRequest}, limiter.actions)
	assert.Equal(t, []string{"user-1"}, limiter.ids)
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionRequestMembership, auditor.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_RateLimited(t *testing.T) {
	limiter := &stubEnforcer{err: &ratelimit.ExceededError{
		Action:    ratelimit.ActionMembershipRequest,
		Limit:     3,
		Count:     3,
		ResetTime: time.Now().Add(time.Hour),
	}}
	h, mock, _ := newTestHandler(t, limiter)

	rec := httptest.NewRecorder()
	body := `{"hoaId":"` + testHOAID + `"}`
	h.Request(rec, asUser(httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(body)), "user-1"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_UnknownHOA(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rec := httptest.NewRecorder()
	body := `{"hoaId":"` + testHOAID + `"}`
	h.Request(rec, asUser(httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(body)), "user-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequest_Duplicate(t *testing.T) {
	h, mock, auditor := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO memberships").WillReturnRows(sqlmock.NewRows(membershipCols))

	rec := httptest.NewRecorder()
	body := `{"hoaId":"` + testHOAID + `"}`
	h.Request(rec, asUser(httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(body)), "user-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, auditor.entries)
}

func TestRequest_InvalidHOAID(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	rec := httptest.NewRecorder()
	h.Request(rec, asUser(httptest.NewRequest(http.MethodPost, "/memberships", strings.NewReader(`{"hoaId":"nope"}`)), "user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func decisionRequest(id, body, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/memberships/"+id+"/decision", strings.NewReader(body))
	req.SetPathValue("id", id)
	return asUser(req, userID)
}

func TestDecide_AdminApproves(t *testing.T) {
	h, mock, auditor := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("FROM memberships").WithArgs(testMembershipID).
		WillReturnRows(membershipRow(testMembershipID, "user-1", testHOAID, permissions.RoleMember, permissions.StatusPending))
	mock.ExpectQuery("FROM memberships").WithArgs("admin-1", testHOAID).
		WillReturnRows(membershipRow("m-admin", "admin-1", testHOAID, permissions.RolePresident, permissions.StatusApproved))
	mock.ExpectQuery("UPDATE memberships").
		WithArgs(testMembershipID, "APPROVED", "admin-1", fixedNow, "").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow(testMembershipID, "user-1", testHOAID, "MEMBER", "APPROVED", "", "admin-1", fixedNow, "", fixedNow, fixedNow))

	rec := httptest.NewRecorder()
	h.Decide(rec, decisionRequest(testMembershipID, `{"action":"APPROVE"}`, "admin-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"APPROVED"`)
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionApproveMembership, auditor.entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecide_PlainMemberForbidden(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("FROM memberships").WithArgs(testMembershipID).
		WillReturnRows(membershipRow(testMembershipID, "user-1", testHOAID, permissions.RoleMember, permissions.StatusPending))
	mock.ExpectQuery("FROM memberships").WithArgs("user-2", testHOAID).
		WillReturnRows(membershipRow("m-2", "user-2", testHOAID, permissions.RoleMember, permissions.StatusApproved))

	rec := httptest.NewRecorder()
	h.Decide(rec, decisionRequest(testMembershipID, `{"action":"REJECT"}`, "user-2"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "HOA admin privileges required")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecide_AlreadyDecided(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("FROM memberships").WithArgs(testMembershipID).
		WillReturnRows(membershipRow(testMembershipID, "user-1", testHOAID, permissions.RoleMember, permissions.StatusApproved))
	mock.ExpectQuery("FROM memberships").WithArgs("admin-1", testHOAID).
		WillReturnRows(membershipRow("m-admin", "admin-1", testHOAID, permissions.RoleAdmin, permissions.StatusApproved))
	mock.ExpectQuery("UPDATE memberships").WillReturnRows(sqlmock.NewRows(membershipCols))

	rec := httptest.NewRecorder()
	h.Decide(rec, decisionRequest(testMembershipID, `{"action":"REJECT","reason":"dup"}`, "admin-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDecide_BadAction(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	rec := httptest.NewRecorder()
	h.Decide(rec, decisionRequest(testMembershipID, `{"action":"MAYBE"}`, "admin-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecide_NotFound(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("FROM memberships").WillReturnRows(sqlmock.NewRows(membershipCols))

	rec := httptest.NewRecorder()
	h.Decide(rec, decisionRequest(testMembershipID, `{"action":"APPROVE"}`, "admin-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMembers_RequiresAdmin(t *testing.T) {
	h, mock, _ := newTestHandler(t, &stubEnforcer{})
	mock.ExpectQuery("FROM memberships").WithArgs("user-1", testHOAID).
		WillReturnRows(membershipRow("m-1", "user-1", testHOAID, permissions.RoleAdmin, permissions.StatusPending))

	req := httptest.NewRequest(http.MethodGet, "/hoas/"+testHOAID+"/members", nil)
	req.SetPathValue("id", testHOAID)
	rec := httptest.NewRecorder()
	h.ListMembers(rec, asUser(req, "user-1"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMembers_InvalidStatus(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubEnforcer{})
	req := httptest.NewRequest(http.MethodGet, "/hoas/"+testHOAID+"/members?status=GONE", nil)
	req.SetPathValue("id", testHOAID)
	rec := httptest.NewRecorder()
	h.ListMembers(rec, asUser(req, "user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
