package codex

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthErrorKind classifies authentication failures.
type AuthErrorKind string

const (
	// KindNotAuthenticated means no credential is loaded.
	KindNotAuthenticated AuthErrorKind = "not_authenticated"
	// KindTokenExchangeFailed means the authorization-code grant was rejected.
	KindTokenExchangeFailed AuthErrorKind = "token_exchange_failed"
	// KindRefreshFailed means the refresh-token grant failed. The credential is discarded.
	KindRefreshFailed AuthErrorKind = "refresh_failed"
	// KindAccountIDMissing means the access token carries neither the account claim nor a subject.
	KindAccountIDMissing AuthErrorKind = "account_id_missing"
	// KindMalformedToken means a token is not a three-segment JWT or its payload is unreadable.
	KindMalformedToken AuthErrorKind = "malformed_token"
	// KindStateMismatch means the callback state does not match the pending authorization.
	KindStateMismatch AuthErrorKind = "state_mismatch"
	// KindCallbackTimeout means no authorization code arrived in time.
	KindCallbackTimeout AuthErrorKind = "callback_timeout"
)

// AuthError is returned by every authentication operation.
// Detail carries the raw upstream message when one exists.
type AuthError struct {
	Kind   AuthErrorKind
	Detail string
	Cause  error
}

// Error returns a string representation of the authentication error.
func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches another *AuthError of the same kind, so the Err* sentinels work with errors.Is.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// StatusCode maps the error onto an HTTP status for the local API.
func (e *AuthError) StatusCode() int {
	switch e.Kind {
	case KindNotAuthenticated, KindRefreshFailed:
		return http.StatusUnauthorized
	case KindStateMismatch:
		return http.StatusBadRequest
	case KindCallbackTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotAuthenticated    = &AuthError{Kind: KindNotAuthenticated}
	ErrTokenExchangeFailed = &AuthError{Kind: KindTokenExchangeFailed}
	ErrRefreshFailed       = &AuthError{Kind: KindRefreshFailed}
	ErrAccountIDMissing    = &AuthError{Kind: KindAccountIDMissing}
	ErrMalformedToken      = &AuthError{Kind: KindMalformedToken}
	ErrStateMismatch       = &AuthError{Kind: KindStateMismatch}
	ErrCallbackTimeout     = &AuthError{Kind: KindCallbackTimeout}
)

// NewAuthError builds an AuthError of the given kind.
func NewAuthError(kind AuthErrorKind, detail string, cause error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Cause: cause}
}

// IsAuthError reports whether err wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// GetUserFriendlyMessage returns a message suitable for a login prompt.
func GetUserFriendlyMessage(err error) string {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Kind {
	case KindNotAuthenticated:
		return "Please log in to continue."
	case KindRefreshFailed:
		return "Your session has expired. Please log in again."
	case KindCallbackTimeout:
		return "Authentication timed out. Please try again."
	case KindStateMismatch:
		return "The login response did not match this session. Please try again."
	case KindTokenExchangeFailed:
		if authErr.Detail != "" {
			return fmt.Sprintf("Authentication failed: %s", authErr.Detail)
		}
		return "Authentication failed. Please try again."
	default:
		return fmt.Sprintf("Authentication failed: %s", authErr.Error())
	}
}
