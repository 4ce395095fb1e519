package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an engine error so handlers and callers can react
// without string matching.
type Kind string

const (
	// KindInvalidArgument means the request itself is malformed (empty path,
	// unknown action, missing content).
	KindInvalidArgument Kind = "invalid_argument"

	// KindInvalidCRState means the operation is not allowed while the change
	// request is in its current status (e.g. staging after submission).
	KindInvalidCRState Kind = "invalid_cr_state"

	// KindInvalidTransition means a state machine guard failed, including
	// role and authorship violations.
	KindInvalidTransition Kind = "invalid_transition"

	// KindStaleBase is a merge-time conflict: the staged base version no
	// longer matches the head of the path.
	KindStaleBase Kind = "stale_base"

	// KindAlreadyExists is a merge-time conflict: a staged create found a
	// live head at the path.
	KindAlreadyExists Kind = "already_exists"

	// KindConcurrentHeadChanged is a compare-and-append race on the version
	// chain. The merge engine absorbs it within one merge pass.
	KindConcurrentHeadChanged Kind = "concurrent_head_changed"

	// KindNotFound means an unknown path, version, change request or file
	// entry.
	KindNotFound Kind = "not_found"

	// KindStorageUnavailable wraps an opaque storage layer failure.
	KindStorageUnavailable Kind = "storage_unavailable"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is an engine error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
