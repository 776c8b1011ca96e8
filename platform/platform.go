// Package platform hides the differences between operating-system families
// behind one Capabilities value.
//
// POSIX systems route SIGINT and SIGTERM cooperatively: the handler may
// schedule work on another goroutine and return. Windows only delivers a
// terminate request, and the handler is expected to act on it directly.
// Windows additionally supports a kill-on-close job object so children die
// with the host even when it is killed without warning.
//
// Callers never branch on the OS name; they ask Cooperative().
package platform

import (
	"errors"
	"os"

	"github.com/vinayprograms/procguard/logging"
)

// Common errors.
var (
	// ErrAlreadyBound indicates Bind was called more than once.
	ErrAlreadyBound = errors.New("signal handlers already bound")

	// ErrReleased indicates Bind was called after Release.
	ErrReleased = errors.New("signal handlers released")
)

// Handler receives one delivered signal.
type Handler func(sig os.Signal)

// Capabilities is what the supervisor needs from the platform.
type Capabilities interface {
	// Name identifies the platform family in logs.
	Name() string

	// Cooperative reports whether signals may be handled by scheduling a
	// sequenced shutdown alongside the running tasks. When false the
	// handler must take the immediate path.
	Cooperative() bool

	// Signals lists the signals Bind routes.
	Signals() []os.Signal

	// Bind routes Signals() to h. Handler panics are recovered and logged.
	// Bind may succeed only once.
	Bind(h Handler) error

	// Release stops routing and restores default signal behaviour. Safe to
	// call more than once and before Bind.
	Release()

	// RegisterCascadingKill makes the OS kill every descendant when the host
	// process exits. No-op where the OS has no such facility. Errors are for
	// reporting; callers continue either way.
	RegisterCascadingKill(logger *logging.Logger) error
}

// Current returns the capabilities of the running OS.
func Current() Capabilities {
	return current()
}
