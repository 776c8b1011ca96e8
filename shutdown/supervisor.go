package shutdown

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/events"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/platform"
	"github.com/vinayprograms/procguard/proc"
	"github.com/vinayprograms/procguard/tasks"
	"github.com/vinayprograms/procguard/telemetry"
	"github.com/vinayprograms/procguard/terminate"
)

// flushTimeout bounds the pre-gate flush of events and spans.
const flushTimeout = 2 * time.Second

// Supervisor owns one termination gate and one shutdown signal.
type Supervisor struct {
	id   string
	root int

	fired  atomic.Bool
	signal *Signal

	group      *tasks.Group
	terminator TreeTerminator
	logger     *logging.Logger
	tracer     *telemetry.Tracer
	publisher  events.Publisher

	mu         sync.Mutex
	caps       platform.Capabilities
	report     *terminate.Report
	terminated chan struct{}
	sequences  sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRoot sets the process whose tree the gate terminates. Defaults to
// the host process.
func WithRoot(pid int) Option {
	return func(s *Supervisor) {
		s.root = pid
	}
}

// WithTasks sets the task group the sequence drains.
func WithTasks(g *tasks.Group) Option {
	return func(s *Supervisor) {
		s.group = g
	}
}

// WithTerminator sets the gate's tree-termination action.
func WithTerminator(t TreeTerminator) Option {
	return func(s *Supervisor) {
		s.terminator = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l.WithComponent("shutdown")
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Supervisor) {
		s.tracer = t
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Supervisor) {
		s.publisher = p
	}
}

// WithSignal shares an existing shutdown signal.
func WithSignal(sig *Signal) Option {
	return func(s *Supervisor) {
		s.signal = sig
	}
}

// New creates a Supervisor. Without options it drains a fresh task group
// and terminates the host's own process tree through the OS process table.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		id:         uuid.NewString(),
		root:       os.Getpid(),
		signal:     NewSignal(),
		logger:     logging.New().WithComponent("shutdown"),
		tracer:     telemetry.GetTracer(),
		publisher:  events.Noop{},
		terminated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.group == nil {
		s.group = tasks.NewGroup(context.Background())
	}
	if s.terminator == nil {
		s.terminator = terminate.New(proc.NewSystemTable(),
			terminate.WithLogger(s.logger),
			terminate.WithTracer(s.tracer),
		)
	}
	return s
}

// ID returns the supervisor's unique ID.
func (s *Supervisor) ID() string {
	return s.id
}

// Tasks returns the task group drained by Shutdown.
func (s *Supervisor) Tasks() *tasks.Group {
	return s.group
}

// Signal returns the shutdown signal.
func (s *Supervisor) Signal() *Signal {
	return s.signal
}

// Done is closed once shutdown has been requested by any path.
func (s *Supervisor) Done() <-chan struct{} {
	return s.signal.Done()
}

// Terminated is closed once the gate's action has finished.
func (s *Supervisor) Terminated() <-chan struct{} {
	return s.terminated
}

// Fired reports whether the gate has fired.
func (s *Supervisor) Fired() bool {
	return s.fired.Load()
}

// Report returns the tree termination report, or nil before the gate's
// action has finished.
func (s *Supervisor) Report() *terminate.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Terminate is the termination gate. The first call terminates the
// process tree and returns true; every other call, concurrent or later,
// returns false immediately. It never returns an error and never panics.
// Once fired, cancelling ctx does not shorten the teardown.
func (s *Supervisor) Terminate(ctx context.Context, sig string) bool {
	if !s.fired.CompareAndSwap(false, true) {
		s.logger.Debug("termination already in progress", map[string]interface{}{
			"signal": sig,
		})
		return false
	}
	ctx = context.WithoutCancel(ctx)

	s.signal.Set()
	s.release()

	report := s.runTerminator(ctx, sig)

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	close(s.terminated)

	e := events.New(events.TypeTreeTerminated)
	e.Signal = sig
	e.Target = report.Root
	e.Count = len(report.Descendants)
	s.publish(ctx, e.WithError(report.Err()))
	return true
}

func (s *Supervisor) runTerminator(ctx context.Context, sig string) (report *terminate.Report) {
	defer func() {
		if r := recover(); r != nil {
			err := pgerrors.Panic(r, pgerrors.WithPID(s.root), pgerrors.WithSignal(sig))
			s.logger.Error("tree termination panicked", map[string]interface{}{
				"error": err.Error(),
			})
			report = &terminate.Report{Root: s.root, Errors: []error{err}}
		}
	}()

	report = s.terminator.TerminateTree(ctx, s.root)
	if report == nil {
		report = &terminate.Report{Root: s.root}
	}
	return report
}

// Shutdown runs the shutdown sequence: set the signal, cancel every task
// except the caller's own, wait for them, then fire the gate. Safe to call
// from inside a task of the group.
func (s *Supervisor) Shutdown(ctx context.Context, sig string) *Result {
	start := time.Now()
	ctx, span := s.tracer.StartShutdownSpan(ctx, sig)

	s.signal.Set()

	cancelled := s.group.Cancel(tasks.CurrentID(ctx))
	s.logger.ShutdownStart(sig, len(cancelled))

	started := events.New(events.TypeShutdownStarted)
	started.Signal = sig
	started.Count = len(cancelled)
	s.publish(ctx, started)

	outcomes := tasks.Await(cancelled)
	failed := 0
	for _, o := range outcomes {
		s.logger.TaskOutcome(o.Name, o.Canceled(), o.Err)
		if o.Failed() {
			failed++
		}
	}

	drained := events.New(events.TypeTasksDrained)
	drained.Signal = sig
	drained.Count = len(outcomes)
	s.publish(ctx, drained)

	// The gate usually kills the host, so everything observable is ended
	// and flushed first.
	s.tracer.EndShutdownSpan(span, telemetry.ShutdownSpanOptions{
		Tasks:    len(outcomes),
		Failed:   failed,
		GateOpen: !s.fired.Load(),
	}, nil)
	s.flush(context.WithoutCancel(ctx))

	fired := s.Terminate(ctx, sig)

	result := &Result{
		Signal:   sig,
		Tasks:    outcomes,
		Fired:    fired,
		Report:   s.Report(),
		Duration: time.Since(start),
	}
	s.logger.ShutdownComplete(result.Duration, fired)
	return result
}

// HandleSignals binds the platform's signals to the supervisor. On a
// cooperative platform each delivery starts Shutdown on its own goroutine,
// outside the task group. Otherwise the delivery calls Terminate directly.
func (s *Supervisor) HandleSignals(caps platform.Capabilities) error {
	s.mu.Lock()
	if s.caps != nil {
		s.mu.Unlock()
		return ErrAlreadyBound
	}
	s.caps = caps
	s.mu.Unlock()

	cooperative := caps.Cooperative()
	return caps.Bind(func(sig os.Signal) {
		name := sig.String()
		s.logger.SignalReceived(name, cooperative)

		ctx := context.Background()
		e := events.New(events.TypeSignalReceived)
		e.Signal = name
		s.publish(ctx, e)

		if !cooperative {
			s.Terminate(ctx, name)
			return
		}
		s.sequences.Add(1)
		go func() {
			defer s.sequences.Done()
			s.Shutdown(ctx, name)
		}()
	})
}

// Wait blocks until every signal-triggered sequence has returned.
func (s *Supervisor) Wait() {
	s.sequences.Wait()
}

// release drops the signal bindings so a terminate request the host sends
// to itself takes the default action.
func (s *Supervisor) release() {
	s.mu.Lock()
	caps := s.caps
	s.mu.Unlock()
	if caps != nil {
		caps.Release()
	}
}

func (s *Supervisor) publish(ctx context.Context, e events.Event) {
	e.Supervisor = s.id
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Debug("event not published", map[string]interface{}{
			"type":  string(e.Type),
			"error": err.Error(),
		})
	}
}

type flusher interface {
	Flush(ctx context.Context) error
}

// flush pushes buffered events and spans out before the gate possibly
// kills the host.
func (s *Supervisor) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	if err := s.tracer.Flush(ctx); err != nil {
		s.logger.Debug("span flush failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	f, ok := s.publisher.(flusher)
	if !ok {
		return
	}
	if err := f.Flush(ctx); err != nil {
		s.logger.Debug("event flush failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
