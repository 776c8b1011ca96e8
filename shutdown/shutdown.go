package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vinayprograms/procguard/tasks"
	"github.com/vinayprograms/procguard/terminate"
)

// Common errors.
var (
	// ErrAlreadyBound indicates HandleSignals was called more than once.
	ErrAlreadyBound = errors.New("signal handlers already bound")
)

// TreeTerminator tears down a process tree. *terminate.Terminator is the
// production implementation.
type TreeTerminator interface {
	TerminateTree(ctx context.Context, root int) *terminate.Report
}

// Signal is a set-once flag that waiters can block on. It is separate from
// the termination gate: setting it only asks cooperative loops to stop.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set sets the signal. Safe to call more than once and concurrently.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether Set was called.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal is set or timeout passes, and reports
// whether the signal is set.
func (s *Signal) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return s.IsSet()
	}
}

// Result describes one run of the shutdown sequence.
type Result struct {
	// Signal that triggered the sequence, empty for explicit calls.
	Signal string

	// Tasks holds the outcome of every task the sequence cancelled.
	Tasks []tasks.Outcome

	// Fired is true if this call fired the termination gate. A later
	// sequence, or one racing a direct gate trigger, sees false.
	Fired bool

	// Report is the tree termination report, nil if the gate had not
	// completed its action when the sequence returned.
	Report *terminate.Report

	// Duration of the entire sequence.
	Duration time.Duration
}

// FailedTasks returns the names of tasks that ended with an unexpected
// error or panic. Cancelled tasks are not failures.
func (r *Result) FailedTasks() []string {
	var failed []string
	for _, o := range r.Tasks {
		if o.Failed() {
			failed = append(failed, o.Name)
		}
	}
	return failed
}
