// Package errors provides the structured error taxonomy used across procguard.
//
// # Error Categories
//
//   - Absence: the process already exited, vanished or is a zombie
//   - Permission: the OS refused to let us query or signal a process
//   - Config: invalid configuration supplied by the caller
//   - Capability: an OS facility is unavailable in this environment
//   - Internal: anything unexpected
//
// Termination paths suppress absence errors, skip permission errors and log
// everything else. The parent liveness monitor treats absence and permission
// as "parent gone" (exit 0) and everything else as internal (exit 1).
//
// # Usage
//
//	err := errors.NoSuchProcess(pid)
//	if errors.IsAbsent(err) {
//	    // already gone, nothing to do
//	}
//
//	wrapped := errors.Wrap(err, "terminating child")
//	errors.Is(wrapped, errors.ErrCodeNoSuchProcess) // true
//
// # JSON Serialization
//
// Errors marshal to JSON so they can ride along in lifecycle events:
//
//	data, _ := json.Marshal(err)
package errors
