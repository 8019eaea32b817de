// Package colorderr defines the error taxonomy shared by every component of
// the module. There is a single flat Kind enumeration; each error carries a
// kind, a short message and an optional low-level cause.
package colorderr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// Internal is any unclassified failure. It always carries a message.
	Internal Kind = iota
	// NoSupport means the device or profile cannot perform the operation.
	NoSupport
	// NoData means a requested tag, metadata item or sample is absent.
	NoData
	// AlreadyExists means a store or device insert saw a duplicate.
	AlreadyExists
	// NotFound means a lookup by id or path missed.
	NotFound
	// AlreadyLocked means lock was called on a locked sensor.
	AlreadyLocked
	// NotLocked means an operation needing the lock ran without it.
	NotLocked
	// Busy means a concurrent operation hit the same sensor.
	Busy
	// RequiredPositionCalibrate means the sensor must be moved to the
	// calibration position.
	RequiredPositionCalibrate
	// RequiredPositionSurface means the sensor must be moved to the
	// surface position.
	RequiredPositionSurface
	// InputInvalid means bad arguments, including CGATS parse errors and
	// malformed locale strings.
	InputInvalid
	// FileInvalid means the file exists but is not a recognizable profile
	// or CGATS document.
	FileInvalid
	// FailedToOpen is an open(2)-level failure.
	FailedToOpen
	// FailedToRead is a read-level failure.
	FailedToRead
	// FailedToWrite is a write-level failure.
	FailedToWrite
	// Protocol means a framing, checksum or sequence mismatch on a
	// driver's wire.
	Protocol
	// Singular means a matrix was not invertible.
	Singular
	// NotMonotone means interpolation x values were not strictly
	// increasing.
	NotMonotone
	// OutOfRange means a value fell outside a defined domain.
	OutOfRange
	// Cancelled means the caller cancelled the operation.
	Cancelled
	// InvalidLocale means a locale string had the wrong shape.
	InvalidLocale
	// ProfilingInhibit means an external inhibitor is active.
	ProfilingInhibit
)

var kindNames = map[Kind]string{
	Internal:                  "internal",
	NoSupport:                 "no-support",
	NoData:                    "no-data",
	AlreadyExists:             "already-exists",
	NotFound:                  "not-found",
	AlreadyLocked:             "already-locked",
	NotLocked:                 "not-locked",
	Busy:                      "busy",
	RequiredPositionCalibrate: "required-position-calibrate",
	RequiredPositionSurface:   "required-position-surface",
	InputInvalid:              "input-invalid",
	FileInvalid:               "file-invalid",
	FailedToOpen:              "failed-to-open",
	FailedToRead:              "failed-to-read",
	FailedToWrite:             "failed-to-write",
	Protocol:                  "protocol",
	Singular:                  "singular",
	NotMonotone:               "not-monotone",
	OutOfRange:                "out-of-range",
	Cancelled:                 "cancelled",
	InvalidLocale:             "invalid-locale",
	ProfilingInhibit:          "profiling-inhibit",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the concrete error type used across the module.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the low-level cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a low-level cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind carried by err, or Internal when err is not part
// of the taxonomy. A nil err also yields Internal; callers check first.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
