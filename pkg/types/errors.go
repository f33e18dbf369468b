package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation errors so call sites can tell
// malformed input, contradictory policies, denials and authentication
// failures apart without string matching.
type ErrorKind string

const (
	// KindParameter marks malformed or missing input, such as an
	// unknown policy name or an unparseable client address.
	KindParameter ErrorKind = "parameter"
	// KindConflict marks contradictory policy configuration, such as a
	// unique action resolving to more than one distinct value.
	KindConflict ErrorKind = "conflict"
	// KindDenied marks a pre-condition rule rejecting the request.
	KindDenied ErrorKind = "denied"
	// KindAuthentication marks missing or invalid credentials.
	KindAuthentication ErrorKind = "authentication"
)

// Error carries an ErrorKind alongside the message
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

func (e *Error) Unwrap() error {
	return e.Err
}

// ParameterError returns a KindParameter error
func ParameterError(format string, args ...any) *Error {
	return &Error{Kind: KindParameter, Message: fmt.Sprintf(format, args...)}
}

// ConflictError returns a KindConflict error
func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// DeniedError returns a KindDenied error
func DeniedError(format string, args ...any) *Error {
	return &Error{Kind: KindDenied, Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError returns a KindAuthentication error
func AuthenticationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

// WrapParameter wraps err as a KindParameter error
func WrapParameter(err error, format string, args ...any) *Error {
	return &Error{Kind: KindParameter, Message: fmt.Sprintf(format, args...), Err: err}
}

// WrapAuthentication wraps err as a KindAuthentication error
func WrapAuthentication(err error, format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err carries none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsParameter reports whether err is a KindParameter error
func IsParameter(err error) bool { return KindOf(err) == KindParameter }

// IsConflict reports whether err is a KindConflict error
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsDenied reports whether err is a KindDenied error
func IsDenied(err error) bool { return KindOf(err) == KindDenied }

// IsAuthentication reports whether err is a KindAuthentication error
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
