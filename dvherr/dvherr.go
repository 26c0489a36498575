// Package dvherr defines the typed error kinds surfaced to the operator
// (spec §7) and their mapping to process exit codes.
package dvherr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the fatal and non-fatal error categories the pipeline can
// raise.
type Kind int

const (
	ArgumentError Kind = iota
	ManifestUnavailable
	UnknownVersion
	PolicyExcluded
	BranchMisordered
	ResumeMismatch
	MetadataMismatch
	MappingMissing
	MappingMismatch
	ToolFailure
	PushFailed
)

func (k Kind) String() string {
	switch k {
	case ArgumentError:
		return "ArgumentError"
	case ManifestUnavailable:
		return "ManifestUnavailable"
	case UnknownVersion:
		return "UnknownVersion"
	case PolicyExcluded:
		return "PolicyExcluded"
	case BranchMisordered:
		return "BranchMisordered"
	case ResumeMismatch:
		return "ResumeMismatch"
	case MetadataMismatch:
		return "MetadataMismatch"
	case MappingMissing:
		return "MappingMissing"
	case MappingMismatch:
		return "MappingMismatch"
	case ToolFailure:
		return "ToolFailure"
	case PushFailed:
		return "PushFailed"
	default:
		return "Unknown"
	}
}

// ExitCode returns the process exit code associated with a Kind. Kind zero
// value is reserved for ArgumentError so an unset Kind still exits nonzero.
func (k Kind) ExitCode() int {
	switch k {
	case MappingMissing:
		return 0 // non-fatal, handled locally by the caller
	default:
		return int(k) + 1
	}
}

// Error is a typed, wrapped error carrying a Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error attaching cause as context, using pkg/errors so
// the resulting value retains a stack trace from the wrap site.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: errors.Wrap(cause, message)}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, reporting
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// ExitCode maps any error to a process exit code: 0 for nil, the typed
// ExitCode for a *Error, and a generic 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if k, ok := KindOf(err); ok {
		return k.ExitCode()
	}
	return 1
}
