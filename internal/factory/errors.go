package factory

import (
	"errors"
	"fmt"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/registry"
)

// ErrorCode categorizes build failures.
type ErrorCode string

const (
	// ErrCodeResolution indicates a name with no registry entry.
	ErrCodeResolution ErrorCode = "RESOLUTION_FAILED"

	// ErrCodeConstruction indicates the constructor could not produce an
	// instance: it returned an error, panicked, returned nil, or was not a
	// constructor at all.
	ErrCodeConstruction ErrorCode = "CONSTRUCTION_FAILED"
)

// Error is a processor or storage build failure.
type Error struct {
	Code   ErrorCode
	Kind   registry.Kind
	Ref    Ref
	Params measure.Options

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Code, e.Kind, e.Ref)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsResolutionError returns true if err, or any error it wraps, is a
// resolution failure. A construction error caused by a missing name counts.
func IsResolutionError(err error) bool {
	return hasCode(err, ErrCodeResolution)
}

// IsConstructionError returns true if err, or any error it wraps, is a
// construction failure.
func IsConstructionError(err error) bool {
	return hasCode(err, ErrCodeConstruction)
}

func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Err
	}
	return false
}
