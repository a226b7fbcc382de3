package permissions

import (
	"encoding/json"
	"errors"
	"net/http"
)

// WriteDenied writes 401 or 403 when err is an *AuthorizationError and
// reports whether it did.
func WriteDenied(w http.ResponseWriter, err error) bool {
	var authzErr *AuthorizationError
	if !errors.As(err, &authzErr) {
		return false
	}

	status := http.StatusForbidden
	if authzErr.Unauthenticated {
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": authzErr.Message})
	return true
}
