// Package errs carries the domain error kinds that handlers translate
// into HTTP status codes. Internals are wrapped so callers can still use
// errors.Is/errors.As on the cause.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalidObservation
	KindUnorderedBatch
	KindOutOfOrderAppend
	KindConcurrentModification
	KindInsufficientData
	KindComputationError
	KindComputationTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidObservation:
		return "invalid_observation"
	case KindUnorderedBatch:
		return "unordered_batch"
	case KindOutOfOrderAppend:
		return "out_of_order_append"
	case KindConcurrentModification:
		return "concurrent_modification"
	case KindInsufficientData:
		return "insufficient_data"
	case KindComputationError:
		return "computation_error"
	case KindComputationTimeout:
		return "computation_timeout"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a domain error with the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, or KindInternal for anything that is
// not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
