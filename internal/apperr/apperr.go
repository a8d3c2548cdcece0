// Package apperr classifies errors that cross the run, issue and API boundaries.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the class of an error
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindInvalidRequest Kind = "invalid_request"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUpstream       Kind = "upstream_failure"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an error for a rejected caller.
func Unauthorized(format string, args ...any) error {
	return newf(KindUnauthorized, format, args...)
}

// InvalidRequest builds an error for a malformed or disallowed request.
func InvalidRequest(format string, args ...any) error {
	return newf(KindInvalidRequest, format, args...)
}

// NotFound builds an error for a missing entity.
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// Conflict builds an error for a state or content mismatch.
func Conflict(format string, args ...any) error {
	return newf(KindConflict, format, args...)
}

// Upstream wraps a failure of the reasoning capability or storage.
func Upstream(err error, format string, args ...any) error {
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
