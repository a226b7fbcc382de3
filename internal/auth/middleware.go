package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
)

type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (User, error)
}

// Middleware rejects requests without a valid bearer token. Roles are loaded
// from the user record on every request so revocations apply immediately.
func Middleware(tokens TokenParser, users UserLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, status, message := authenticate(r, tokens, users)
		if user == nil {
			writeError(w, status, message)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalMiddleware attaches the caller when a valid token is present and
// otherwise serves the request anonymously.
func OptionalMiddleware(tokens TokenParser, users UserLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, status, message := authenticate(r, tokens, users)
		if user == nil {
			if status == http.StatusInternalServerError {
				writeError(w, status, message)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func authenticate(r *http.Request, tokens TokenParser, users UserLookup) (*User, int, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, http.StatusUnauthorized, "missing authorization token"
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, http.StatusUnauthorized, "invalid authorization format"
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return nil, http.StatusUnauthorized, "invalid authorization token"
	}

	userID, err := tokens.ParseAccessToken(tokenStr)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid or expired token"
	}

	user, err := users.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, http.StatusUnauthorized, "unknown user"
		}
		return nil, http.StatusInternalServerError, "failed to load user"
	}

	return &user, 0, ""
}
