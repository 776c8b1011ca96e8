package liveness

import (
	"errors"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// Common errors.
var (
	// ErrAlreadyStarted indicates Start was called more than once.
	ErrAlreadyStarted = errors.New("liveness monitor already started")
)

// Exit codes used when the parent is lost.
const (
	// ExitParentGone means the parent is genuinely gone (absent, zombie,
	// vanished, or no longer ours to query).
	ExitParentGone = 0

	// ExitCheckFailed means the check itself failed unexpectedly.
	ExitCheckFailed = 1
)

// Config configures the liveness monitor.
type Config struct {
	// ParentPID is the process to watch. 0 means the OS-reported parent.
	ParentPID int `toml:"parent_pid" yaml:"parent_pid"`

	// CheckInterval is the wait between checks. Must be positive.
	// Default: 1 second
	CheckInterval time.Duration `toml:"check_interval" yaml:"check_interval"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Second,
	}
}

// Validate checks the configuration. A non-positive interval is an error,
// not a cue to fall back to the default.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return pgerrors.InvalidConfig("liveness check interval must be positive",
			pgerrors.WithMetadata("check_interval", c.CheckInterval.String()))
	}
	if c.ParentPID < 0 {
		return pgerrors.InvalidConfig("parent pid must not be negative")
	}
	return nil
}

// Loss describes why the monitor is forcing the process to exit.
type Loss struct {
	Parent   int
	Err      error
	ExitCode int
}

// Reason is a short machine-readable cause for logs and events.
func (l Loss) Reason() string {
	if code := pgerrors.Code(l.Err); code != "" {
		return string(code)
	}
	return "UNEXPECTED"
}

// ExitCode maps a failed liveness check to the process exit code: 0 when
// the parent is absent, a zombie, vanished, or access to it is denied; 1 for
// anything else.
func ExitCode(err error) int {
	if pgerrors.IsAbsent(err) || pgerrors.IsPermission(err) {
		return ExitParentGone
	}
	return ExitCheckFailed
}
