package twitchapi

import (
	"errors"
	"fmt"
)

// AuthErrorKind classifies OAuth failures.
type AuthErrorKind int

const (
	// AuthReauthRequired means the stored credentials are unusable (missing
	// or revoked); the user must complete the browser flow again.
	AuthReauthRequired AuthErrorKind = iota
	// AuthTimeout means the user never completed the browser flow within
	// the wait window.
	AuthTimeout
	// AuthProviderRejected means the token endpoint answered non-2xx.
	AuthProviderRejected
)

// String returns a human-readable name for the kind.
func (k AuthErrorKind) String() string {
	switch k {
	case AuthReauthRequired:
		return "reauth_required"
	case AuthTimeout:
		return "timeout"
	case AuthProviderRejected:
		return "provider_rejected"
	default:
		return "unknown"
	}
}

// AuthError is returned by the token lifecycle operations. Status carries
// the HTTP status for provider rejections (0 otherwise).
type AuthError struct {
	Kind   AuthErrorKind
	Status int
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth error (%s)", e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// AsAuthError unwraps err into an *AuthError if possible.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// APIErrorKind classifies Helix failures.
type APIErrorKind int

const (
	// APIHTTPError is any unexpected Helix status.
	APIHTTPError APIErrorKind = iota
	// APIInvalidTags means the provider rejected the tag list (count or
	// length cap). Tags are never truncated silently.
	APIInvalidTags
)

func (k APIErrorKind) String() string {
	switch k {
	case APIInvalidTags:
		return "invalid_tags"
	case APIHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// APIError is returned by Helix calls for non-success responses.
type APIError struct {
	Kind   APIErrorKind
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix error (%s): status %d: %s", e.Kind, e.Status, e.Detail)
}

// NotFoundError is returned by category resolution when no category matches
// the requested name, carrying the offending name verbatim.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("category not found on Twitch: %s", e.Name)
}
