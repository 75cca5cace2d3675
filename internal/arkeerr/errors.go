// Package arkeerr defines the error-kind vocabulary shared by every
// core component (spec §7). Only the outermost HTTP handler maps a
// Kind to a status code; everything upstream just returns *Error.
package arkeerr

import "fmt"

// Kind is a conceptual error category, independent of transport.
type Kind string

const (
	// StoreUnavailable is a transient block-store IO failure. Retryable.
	StoreUnavailable Kind = "StoreUnavailable"
	// NotFound means a CID or MFS path does not exist. Never retried.
	NotFound Kind = "NotFound"
	// Conflict means a CAS check on a tip failed.
	Conflict Kind = "Conflict"
	// AlreadyExists means create was called on a PI with a live tip.
	AlreadyExists Kind = "AlreadyExists"
	// Malformed means the caller's input was invalid.
	Malformed Kind = "Malformed"
	// LockHeld means a snapshot build is already in progress.
	LockHeld Kind = "LockHeld"
	// Invariant means an internal consistency check failed.
	Invariant Kind = "Invariant"
)

// Error is the typed error every core operation returns.
type Error struct {
	Kind Kind
	Msg  string
	// Observed carries the CAS-observed tip CID for Conflict errors.
	Observed string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ConflictWith builds a Conflict error carrying the observed tip.
func ConflictWith(observed string) *Error {
	return &Error{Kind: Conflict, Msg: "tip changed since expect_tip was read", Observed: observed}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

// As reports whether err (or something it wraps) is an *Error, setting
// *target if so. Handwritten rather than errors.As so arkeerr has no
// dependency on the standard errors package's reflection path.
func As(err error, target **Error) bool {
	return asError(err, target)
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
