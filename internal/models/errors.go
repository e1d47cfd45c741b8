package models

import (
	"errors"
	"fmt"
)

// Kind is a reason code carried by every error that reaches a caller.
type Kind string

const (
	KindMissingQuery        Kind = "missing_query"
	KindInvalidWeight       Kind = "invalid_weight"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindRateLimited         Kind = "rate_limited"
	KindInvalidInput        Kind = "invalid_input"
	KindUnauthorized        Kind = "unauthorized"
	KindDimensionMismatch   Kind = "dimension_mismatch"
	KindCorpusUnavailable   Kind = "corpus_unavailable"
	KindInternal            Kind = "internal"
)

var (
	ErrMissingQuery        = errors.New("neither text nor image supplied")
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrDimensionMismatch   = errors.New("vector dimensions differ")
	ErrCorpusUnavailable   = errors.New("corpus unavailable")
)

// Error is a typed failure with a reason code. Attempts is set for provider
// failures and records how many calls were made.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Err      error
}

// NewError returns an *Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AttemptsOf returns the attempt count recorded in err's chain, or 0.
func AttemptsOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Attempts
	}
	return 0
}
