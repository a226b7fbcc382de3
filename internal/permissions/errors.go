package permissions

// AuthorizationError is returned by the Require* checks. It is never retryable.
type AuthorizationError struct {
	Message string
	// Unauthenticated is set when there is no caller at all.
	Unauthenticated bool
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

var (
	ErrAuthenticationRequired   = &AuthorizationError{Message: "authentication required", Unauthenticated: true}
	ErrMembershipRequired       = &AuthorizationError{Message: "HOA membership required"}
	ErrAdminRequired            = &AuthorizationError{Message: "HOA admin privileges required"}
	ErrPlatformAdminRequired    = &AuthorizationError{Message: "platform admin privileges required"}
	ErrContentOwnershipRequired = &AuthorizationError{Message: "only the author or an HOA admin may delete this content"}
)
