// Package errors provides error handling for postbot.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping, hints,
// marks) and defines the failure categories every core operation reports:
//
//	ErrMalformedInput  rejected before any mutation
//	ErrAuthDenied      signature mismatch or malformed signed payload
//	ErrNotFound        missing id; callers treat it as a successful no-op
//	ErrEngineFault     the schedule engine refused an arm/disarm
//	ErrInconsistent    rollback after an engine fault failed (fatal)
//
// Specific errors are tagged with a category via Mark, so
//
//	errors.Is(err, errors.ErrMalformedInput)
//
// holds for every input error regardless of its message.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

var (
	ErrMalformedInput = New("malformed input")
	ErrAuthDenied     = New("authentication denied")
	ErrNotFound       = New("not found")
	ErrEngineFault    = New("schedule engine fault")
	ErrInconsistent   = New("job store and schedule engine diverged")
)

// Malformed tags err as ErrMalformedInput.
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrMalformedInput)
}

// Malformedf creates a new ErrMalformedInput error with a formatted message.
func Malformedf(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrMalformedInput)
}

// EngineFault wraps err with context and tags it as ErrEngineFault.
func EngineFault(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrEngineFault)
}

// IsMalformed reports whether err is tagged as malformed input.
func IsMalformed(err error) bool { return err != nil && Is(err, ErrMalformedInput) }

// IsFatal reports whether err signals that the core invariant no longer holds.
func IsFatal(err error) bool { return err != nil && Is(err, ErrInconsistent) }
