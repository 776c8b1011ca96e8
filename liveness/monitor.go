package liveness

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/proc"
)

// Monitor watches the parent process and exits the host when it is gone.
type Monitor struct {
	parent   int
	interval time.Duration

	checker  proc.LivenessChecker
	shutdown <-chan struct{}
	exit     func(code int)
	onLost   func(Loss)
	logger   *logging.Logger

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithChecker sets how the parent is checked. Defaults to the OS process
// table.
func WithChecker(c proc.LivenessChecker) Option {
	return func(m *Monitor) {
		m.checker = c
	}
}

// WithShutdown ends the loop as soon as ch is closed, without waiting out
// the current interval.
func WithShutdown(ch <-chan struct{}) Option {
	return func(m *Monitor) {
		m.shutdown = ch
	}
}

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(m *Monitor) {
		m.exit = fn
	}
}

// WithOnParentLost registers a hook that runs right before the forced exit.
// Panics in the hook are recovered.
func WithOnParentLost(fn func(Loss)) Option {
	return func(m *Monitor) {
		m.onLost = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = l.WithComponent("liveness")
	}
}

// New validates cfg and creates a monitor. It does not check anything
// until Start.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	parent := cfg.ParentPID
	if parent == 0 {
		parent = os.Getppid()
	}
	if parent <= 0 {
		return nil, pgerrors.InvalidConfig("no parent process to monitor",
			pgerrors.WithPID(parent))
	}

	m := &Monitor{
		parent:   parent,
		interval: cfg.CheckInterval,
		checker:  proc.NewSystemTable(),
		exit:     os.Exit,
		logger:   logging.New().WithComponent("liveness"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Parent returns the PID being watched.
func (m *Monitor) Parent() int {
	return m.parent
}

// Start launches the monitoring goroutine. A monitor runs at most once;
// later calls return ErrAlreadyStarted, even after it stopped.
func (m *Monitor) Start(ctx context.Context) error {
	if m.started.Swap(true) {
		return ErrAlreadyStarted
	}
	m.logger.Debug("monitoring parent", map[string]interface{}{
		"parent":   m.parent,
		"interval": m.interval.String(),
	})
	go m.run(ctx)
	return nil
}

// Stop ends the loop without exiting the process.
func (m *Monitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

// Done is closed when the loop has ended.
func (m *Monitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		if m.Check(ctx) {
			return
		}

		timer.Reset(m.interval)
		select {
		case <-m.shutdown:
			return
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Check runs one liveness check. If the parent is lost it logs, runs the
// hook and calls the exit function, then returns true.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.alive(ctx)
	if err == nil {
		return false
	}

	loss := Loss{Parent: m.parent, Err: err, ExitCode: ExitCode(err)}
	m.logger.ParentLost(m.parent, loss.Reason(), loss.ExitCode)
	m.runHook(loss)
	m.exit(loss.ExitCode)
	return true
}

// alive runs the checker, turning a panic into an unexpected error.
func (m *Monitor) alive(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pgerrors.Panic(r, pgerrors.WithPID(m.parent))
		}
	}()
	return m.checker.Alive(ctx, m.parent)
}

func (m *Monitor) runHook(loss Loss) {
	if m.onLost == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("parent-lost hook panicked", map[string]interface{}{
				"error": pgerrors.Panic(r).Error(),
			})
		}
	}()
	m.onLost(loss)
}
