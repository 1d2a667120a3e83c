package review

import (
	"database/sql"
	"errors"
)

type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindPrecondition    Kind = "precondition"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindBackend         Kind = "backend"
)

// Error classifies a workflow failure. Message is safe to show to users;
// for backend errors it is the backend's message verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a review error of the given kind.
func IsKind(err error, kind Kind) bool {
	var reviewErr *Error
	return errors.As(err, &reviewErr) && reviewErr.Kind == kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func backendError(err error) *Error {
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Kind: KindNotFound, Message: "not found", Err: err}
	}
	return &Error{Kind: KindBackend, Message: err.Error(), Err: err}
}

var errUnauthenticated = newError(KindUnauthenticated, "sign in required")
