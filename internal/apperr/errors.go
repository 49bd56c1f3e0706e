// Package apperr defines the error taxonomy shared by the live engine.
// Ownership mismatches are reported as ErrNotFound, never ErrForbidden, so a
// non-owner cannot confirm whether a stream exists.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: missing entity, or an ownership-scoped lookup that did not match.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest: illegal state transition or malformed operation.
	ErrBadRequest = errors.New("bad request")

	// ErrForbidden: banned or timed-out sender, or a non-owner attempting an
	// exclusive action through a path that already proved existence.
	ErrForbidden = errors.New("forbidden")

	// ErrResourceExhausted: broadcast channel quota exhausted and every reuse
	// tier came up empty.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrRateLimited: sender exceeded the chat message window. A Forbidden
	// variant so callers can surface a distinct "slow down" message.
	ErrRateLimited = errors.New("rate limited")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...interface{}) error {
	return &labeled{ErrNotFound, fmt.Sprintf(format, args...)}
}

// BadRequestf wraps ErrBadRequest with context.
func BadRequestf(format string, args ...interface{}) error {
	return &labeled{ErrBadRequest, fmt.Sprintf(format, args...)}
}

// Forbiddenf wraps ErrForbidden with context.
func Forbiddenf(format string, args ...interface{}) error {
	return &labeled{ErrForbidden, fmt.Sprintf(format, args...)}
}

type labeled struct {
	kind error
	msg  string
}

func (l *labeled) Error() string { return l.kind.Error() + ": " + l.msg }
func (l *labeled) Unwrap() error { return l.kind }
