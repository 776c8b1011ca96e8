package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// SupervisorError is the interface for all structured errors in procguard.
type SupervisorError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for handling decisions.
	Category() ErrorCategory

	// PID returns the process the error concerns, or 0.
	PID() int

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of SupervisorError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	pid       int
	signal    string
}

var (
	_ SupervisorError  = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// PID returns the process id the error concerns.
func (e *Error) PID() int {
	return e.pid
}

// Signal returns the signal name attached to the error, if any.
func (e *Error) Signal() string {
	return e.signal
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	PID       int               `json:"pid,omitempty"`
	Signal    string            `json:"signal,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:     e.code,
		Category: e.category,
		Message:  e.message,
		Metadata: e.metadata,
		PID:      e.pid,
		Signal:   e.signal,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.pid = j.PID
	e.signal = j.Signal
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithPID sets the process the error concerns.
func WithPID(pid int) Option {
	return func(e *Error) {
		e.pid = pid
	}
}

// WithSignal records the signal that triggered the failing operation.
func WithSignal(sig string) Option {
	return func(e *Error) {
		e.signal = sig
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NoSuchProcess creates an absence error for pid.
func NoSuchProcess(pid int, opts ...Option) *Error {
	opts = append([]Option{WithPID(pid)}, opts...)
	return New(ErrCodeNoSuchProcess, fmt.Sprintf("process %d does not exist", pid), opts...)
}

// Vanished creates an error for a process that disappeared mid-query.
func Vanished(pid int, opts ...Option) *Error {
	opts = append([]Option{WithPID(pid)}, opts...)
	return New(ErrCodeVanished, fmt.Sprintf("process %d vanished", pid), opts...)
}

// Zombie creates an error for a process that exited but was not reaped.
func Zombie(pid int, opts ...Option) *Error {
	opts = append([]Option{WithPID(pid)}, opts...)
	return New(ErrCodeZombie, fmt.Sprintf("process %d is a zombie", pid), opts...)
}

// AccessDenied creates a permission error for pid.
func AccessDenied(pid int, opts ...Option) *Error {
	opts = append([]Option{WithPID(pid)}, opts...)
	return New(ErrCodeAccessDenied, fmt.Sprintf("access denied to process %d", pid), opts...)
}

// InvalidConfig creates a configuration error.
func InvalidConfig(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidConfig, message, opts...)
}

// CapabilityMissing creates a capability-unavailable error.
func CapabilityMissing(message string, opts ...Option) *Error {
	return New(ErrCodeCapabilityMissing, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Panic creates an error from a recovered panic value.
func Panic(v interface{}, opts ...Option) *Error {
	return New(ErrCodePanic, fmt.Sprintf("panic: %v", v), opts...)
}
