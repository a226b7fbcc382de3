package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubParser struct {
	subject string
	err     error
}

func (p stubParser) ParseAccessToken(string) (string, error) { return p.subject, p.err }

type stubUsers struct {
	user User
	err  error
}

func (u stubUsers) GetUserByID(context.Context, string) (User, error) { return u.user, u.err }

func captureUser(seen **User) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	okUser := User{ID: "user-1", Roles: []string{RolePlatformAdmin}}

	cases := []struct {
		name   string
		header string
		parser stubParser
		users  stubUsers
		status int
	}{
		{"missing header", "", stubParser{}, stubUsers{}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubParser{}, stubUsers{}, http.StatusUnauthorized},
		{"empty token", "Bearer  ", stubParser{}, stubUsers{}, http.StatusUnauthorized},
		{"bad token", "Bearer x", stubParser{err: ErrInvalidAccessToken}, stubUsers{}, http.StatusUnauthorized},
		{"unknown user", "Bearer x", stubParser{subject: "gone"}, stubUsers{err: sql.ErrNoRows}, http.StatusUnauthorized},
		{"store failure", "Bearer x", stubParser{subject: "user-1"}, stubUsers{err: errors.New("db")}, http.StatusInternalServerError},
		{"ok", "Bearer x", stubParser{subject: "user-1"}, stubUsers{user: okUser}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen *User
			handler := Middleware(tc.parser, tc.users, captureUser(&seen))
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				if assert.NotNil(t, seen) {
					assert.Equal(t, "user-1", seen.ID)
				}
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestOptionalMiddleware(t *testing.T) {
	var seen *User
	handler := OptionalMiddleware(stubParser{err: ErrInvalidAccessToken}, stubUsers{}, captureUser(&seen))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hoas/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/hoas/x", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen)

	handler = OptionalMiddleware(stubParser{subject: "user-1"}, stubUsers{user: User{ID: "user-1"}}, captureUser(&seen))
	req = httptest.NewRequest(http.MethodGet, "/hoas/x", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	if assert.NotNil(t, seen) {
		assert.Equal(t, "user-1", seen.ID)
	}
}
