package rbac

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an Error for transport mapping.
type ErrorKind int

const (
	// KindInternal covers unexpected failures such as storage errors.
	KindInternal ErrorKind = iota
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindConflict means the operation collides with existing state, such
	// as a duplicate role name.
	KindConflict
	// KindForbidden means the operation is refused, such as deleting a
	// system role.
	KindForbidden
	// KindInvalid means the request itself is malformed.
	KindInvalid
)

// Error is a classified authorization-engine error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error { return e.Err }

// NotFoundf builds a KindNotFound error
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a KindForbidden error
func Forbiddenf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Invalidf builds a KindInvalid error
func Invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// Internalf builds a KindInternal error wrapping err
func Internalf(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification of err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is classified KindNotFound
func IsNotFound(err error) bool { return errorIs(err, KindNotFound) }

// IsConflict reports whether err is classified KindConflict
func IsConflict(err error) bool { return errorIs(err, KindConflict) }

// IsForbidden reports whether err is classified KindForbidden
func IsForbidden(err error) bool { return errorIs(err, KindForbidden) }

// IsInvalid reports whether err is classified KindInvalid
func IsInvalid(err error) bool { return errorIs(err, KindInvalid) }

func errorIs(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
