// Package errors provides the sentinel error taxonomy for the carousel
// storage engine.
//
// The taxonomy separates three very different failure classes:
//   - per-point decode failures, which are isolated and never abort an
//     ingestion stream;
//   - engine-fatal invariant violations (broken free-space accounting,
//     double rotation), after which the engine refuses further writes
//     to avoid silent corruption;
//   - transport failures, which belong to the external caller and must
//     leave engine state untouched.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Decode errors: the offending point is rejected, the stream continues.
	ErrDecode           = errors.New("malformed point")
	ErrBadTimestamp     = errors.New("malformed timestamp")
	ErrBadValue         = errors.New("malformed value")
	ErrEmptySeries      = errors.New("empty series key")
	ErrNonFiniteValue   = errors.New("non-finite value")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrUnexpectedSymbol = errors.New("unexpected frame symbol")

	// Engine-fatal: rotation failed to produce a writable volume.
	ErrCapacityExceeded = errors.New("point exceeds volume capacity")
	// ErrEngineHalted is returned for every write after a fatal
	// invariant violation has been observed.
	ErrEngineHalted = errors.New("engine halted after invariant violation")

	// Lifecycle errors.
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")

	// Query errors. An empty result is NOT an error; these cover
	// malformed requests only.
	ErrBadQuery     = errors.New("malformed query")
	ErrUnknownRange = errors.New("query range not specified")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsDecode returns true if err is a per-point decode error. Decode
// errors are counted and reported but never fatal to the engine.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrBadTimestamp) ||
		errors.Is(err, ErrBadValue) ||
		errors.Is(err, ErrEmptySeries) ||
		errors.Is(err, ErrNonFiniteValue) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrUnexpectedSymbol)
}

// IsFatal returns true if err indicates a broken engine invariant.
// After a fatal error the write path must stop accepting points.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrEngineHalted)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewDecode creates a decode error with context about the offending
// input. The result matches ErrDecode for errors.Is.
func NewDecode(detail string) error {
	return fmt.Errorf("%s: %w", detail, ErrDecode)
}
