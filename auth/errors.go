package auth

import "errors"

// Sentinel errors for authentication and authorization.
var (
	// ErrNotAuthorized is the error kind backends return when the current
	// credentials are missing, expired or rejected.
	ErrNotAuthorized = errors.New("auth: not authorized")

	// Credential errors
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")

	// ErrForbidden means the credentials are valid but lack access. It does
	// not expire the session.
	ErrForbidden = errors.New("auth: access denied")
)
