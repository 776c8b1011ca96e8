package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a structured Error, the wrapper keeps its code, category
// and PID. Context errors map to TIMEOUT/CANCELED; anything else is INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var supErr *Error
	if errors.As(err, &supErr) {
		wrapped := &Error{
			code:      supErr.code,
			category:  supErr.category,
			message:   message,
			cause:     err,
			metadata:  supErr.Metadata(),
			timestamp: supErr.timestamp,
			pid:       supErr.pid,
			signal:    supErr.signal,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsSupervisorError extracts a SupervisorError from an error chain.
// Returns nil if none is found.
func AsSupervisorError(err error) SupervisorError {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr
	}
	return nil
}

// Is checks if the outermost structured error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr.code == code
	}
	return false
}

// IsCategory checks if the outermost structured error in the chain has the
// given category.
func IsCategory(err error, category ErrorCategory) bool {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr.category == category
	}
	return false
}

// IsAbsent reports whether err means the process is already gone.
func IsAbsent(err error) bool {
	return IsCategory(err, CategoryAbsence)
}

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool {
	return IsCategory(err, CategoryPermission)
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return IsCategory(err, CategoryConfig)
}

// IsCapability reports whether err means an OS facility is unavailable.
func IsCapability(err error) bool {
	return IsCategory(err, CategoryCapability)
}

// IsInternal reports whether err is internal. Plain (unstructured) errors
// count as internal.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	if AsSupervisorError(err) == nil {
		return true
	}
	return IsCategory(err, CategoryInternal)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a structured Error.
func Code(err error) ErrorCode {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr.category
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Collect gathers multiple errors into a slice, filtering nils.
func Collect(errs ...error) []error {
	var result []error
	for _, err := range errs {
		if err != nil {
			result = append(result, err)
		}
	}
	return result
}
