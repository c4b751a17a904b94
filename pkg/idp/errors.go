package idp

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindEmailNotVerified    ErrorKind = "email_not_verified"
	KindRateLimited         ErrorKind = "rate_limited"
	KindSessionExpired      ErrorKind = "session_expired"
	KindSessionMalformed    ErrorKind = "session_malformed"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindUnknown             ErrorKind = "unknown"
)

// AuthError is the typed failure surfaced by sign-in, sign-up and code
// exchange. InvalidCredentials, EmailNotVerified and RateLimited are
// rendered verbatim to the user; the rest degrade to "treat as logged
// out" before they ever reach a screen.
type AuthError struct {
	Kind        ErrorKind
	Description string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s (%s)", e.Kind, e.Description)
}

func NewAuthError(kind ErrorKind, description string) *AuthError {
	return &AuthError{Kind: kind, Description: description}
}

// KindOf extracts the error kind, mapping non-auth errors to Unknown.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error kind to the status the auth API responds
// with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidCredentials, KindEmailNotVerified, KindSessionExpired, KindSessionMalformed:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
