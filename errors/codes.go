package errors

// ErrorCategory classifies errors by how the supervisor reacts to them.
type ErrorCategory string

// Error categories mirror the supervisor's failure taxonomy.
const (
	// CategoryAbsence indicates the target process exited or was reaped
	// mid-operation. Termination steps treat it as success.
	CategoryAbsence ErrorCategory = "absence"

	// CategoryPermission indicates the OS refused to let us query or
	// signal a process.
	CategoryPermission ErrorCategory = "permission"

	// CategoryConfig indicates invalid caller-supplied configuration.
	// Raised synchronously, never defaulted.
	CategoryConfig ErrorCategory = "config"

	// CategoryCapability indicates an OS facility is missing in this
	// environment. Callers degrade and continue.
	CategoryCapability ErrorCategory = "capability"

	// CategoryInternal indicates anything unexpected.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// Suppressible returns true if termination paths swallow errors in this
// category without surfacing them.
func (c ErrorCategory) Suppressible() bool {
	return c == CategoryAbsence
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

// Error codes for process supervision failures.
const (
	// Absence
	ErrCodeNoSuchProcess ErrorCode = "NO_SUCH_PROCESS" // PID does not exist
	ErrCodeVanished      ErrorCode = "VANISHED"        // PID disappeared between lookup and use
	ErrCodeZombie        ErrorCode = "ZOMBIE"          // Process exited but is not reaped

	// Permission
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED" // Query or signal refused

	// Config
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG" // Rejected configuration value

	// Capability
	ErrCodeCapabilityMissing ErrorCode = "CAPABILITY_MISSING" // OS facility not present
	ErrCodeUnsupported       ErrorCode = "UNSUPPORTED"        // Operation not supported on this platform

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodeTimeout  ErrorCode = "TIMEOUT"  // Wait exceeded its bound
	ErrCodeCanceled ErrorCode = "CANCELED" // Operation was canceled
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNoSuchProcess, ErrCodeVanished, ErrCodeZombie:
		return CategoryAbsence
	case ErrCodeAccessDenied:
		return CategoryPermission
	case ErrCodeInvalidConfig:
		return CategoryConfig
	case ErrCodeCapabilityMissing, ErrCodeUnsupported:
		return CategoryCapability
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeNoSuchProcess:     "no such process",
	ErrCodeVanished:          "process vanished",
	ErrCodeZombie:            "process is a zombie",
	ErrCodeAccessDenied:      "access denied",
	ErrCodeInvalidConfig:     "invalid configuration",
	ErrCodeCapabilityMissing: "required capability missing",
	ErrCodeUnsupported:       "operation not supported",
	ErrCodeInternal:          "internal error",
	ErrCodeTimeout:           "operation timed out",
	ErrCodeCanceled:          "operation canceled",
	ErrCodePanic:             "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
