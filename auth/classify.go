package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// StatusError carries the HTTP status a remote backend answered with.
type StatusError struct {
	Code int
	Err  error
}

// NewStatusError wraps err with an HTTP status code.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: status %d", e.Code)
	}
	return fmt.Sprintf("auth: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }

// IsNotAuthorized reports whether err is of the NotAuthorized kind: the
// ErrNotAuthorized sentinel, an expired or invalid credential error, or any
// error in the chain exposing StatusCode() == 401.
//
// ErrForbidden is not NotAuthorized; fresh credentials would not help.
func IsNotAuthorized(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, jwt.ErrTokenExpired):
		return true
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode() == http.StatusUnauthorized
	}
	return false
}
