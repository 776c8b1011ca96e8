// Package terminate brings down a process and all of its descendants.
//
// Descendants are signalled first as one batch: every member gets a
// graceful terminate request, the batch is given a grace period to exit,
// and survivors are killed. The root is handled last with the same
// terminate, wait, kill sequence. Processes that disappear along the way
// are not errors. Nothing is returned to the caller as an error; failures
// are logged and collected in the Report.
package terminate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/proc"
	"github.com/vinayprograms/procguard/telemetry"
)

const (
	// DefaultGracePeriod is how long processes get to exit after a
	// graceful request before they are killed.
	DefaultGracePeriod = 3 * time.Second

	// DefaultPollInterval is how often exit is polled during the grace
	// period.
	DefaultPollInterval = 50 * time.Millisecond

	// maxConcurrentWaits bounds the number of exit pollers in one batch.
	maxConcurrentWaits = 64
)

// Report describes one tree termination.
type Report struct {
	Root        int
	Descendants []int

	// Terminated lists PIDs that exited after the graceful request.
	Terminated []int

	// Killed lists PIDs that had to be force-killed.
	Killed []int

	// Skipped lists PIDs that could not be signalled for lack of permission.
	Skipped []int

	// Errors holds every non-absence failure that was suppressed.
	Errors []error

	Duration time.Duration
}

// Err joins the suppressed errors, or returns nil.
func (r *Report) Err() error {
	return pgerrors.Join(r.Errors...)
}

// Terminator terminates process trees through a proc.Table.
type Terminator struct {
	table  proc.Table
	grace  time.Duration
	poll   time.Duration
	logger *logging.Logger
	tracer *telemetry.Tracer
}

// Option configures a Terminator.
type Option func(*Terminator)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Terminator) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Terminator) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Terminator) {
		t.logger = l.WithComponent("terminate")
	}
}

// WithTracer sets the tracer.
func WithTracer(tr *telemetry.Tracer) Option {
	return func(t *Terminator) {
		t.tracer = tr
	}
}

// New creates a Terminator.
func New(table proc.Table, opts ...Option) *Terminator {
	t := &Terminator{
		table:  table,
		grace:  DefaultGracePeriod,
		poll:   DefaultPollInterval,
		logger: logging.New().WithComponent("terminate"),
		tracer: telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GracePeriod returns the configured grace period.
func (t *Terminator) GracePeriod() time.Duration {
	return t.grace
}

// TerminateTree terminates every descendant of root and then root itself.
// It always returns a report and never panics. Cancelling ctx does not cut
// the grace period short; only its values are used.
func (t *Terminator) TerminateTree(ctx context.Context, root int) (report *Report) {
	start := time.Now()
	report = &Report{Root: root}
	ctx = context.WithoutCancel(ctx)

	ctx, span := t.tracer.StartTerminationSpan(ctx, root)
	defer func() {
		if r := recover(); r != nil {
			err := pgerrors.Panic(r, pgerrors.WithPID(root))
			t.logger.Error("tree termination panicked", map[string]interface{}{
				"pid":   root,
				"error": err.Error(),
			})
			report.Errors = append(report.Errors, err)
		}
		report.Duration = time.Since(start)
		t.tracer.EndTerminationSpan(span, telemetry.TerminationSpanOptions{
			Root:        root,
			Descendants: len(report.Descendants),
			Terminated:  len(report.Terminated),
			Killed:      len(report.Killed),
			Suppressed:  len(report.Errors),
		}, report.Err())
		t.logger.TreeTerminated(root, len(report.Descendants), len(report.Killed), report.Duration)
	}()

	descendants, err := t.table.Descendants(ctx, root)
	switch {
	case err == nil:
	case pgerrors.IsAbsent(err):
		t.logger.Debug("root already gone", map[string]interface{}{"pid": root})
		return report
	default:
		// Still try the root and whatever was enumerated before the failure.
		t.suppress(report, root, err, "enumerating descendants")
	}
	report.Descendants = descendants

	if len(descendants) > 0 {
		t.terminateBatch(ctx, report, descendants)
	}
	t.terminateOne(ctx, report, root)
	return report
}

// TerminateProcess applies the single-process protocol to pid without
// looking at its children.
func (t *Terminator) TerminateProcess(ctx context.Context, pid int) *Report {
	start := time.Now()
	report := &Report{Root: pid}
	t.terminateOne(context.WithoutCancel(ctx), report, pid)
	report.Duration = time.Since(start)
	return report
}

// terminateBatch sends terminate to every member, waits for all of them
// within one grace period, then kills the survivors.
func (t *Terminator) terminateBatch(ctx context.Context, report *Report, pids []int) {
	ctx, span := t.tracer.StartBatchSpan(ctx, len(pids))

	var pending []int
	for _, pid := range pids {
		if t.requestTerminate(ctx, report, pid) {
			pending = append(pending, pid)
		}
	}

	survivors := t.waitAll(ctx, pending)
	alive := make(map[int]bool, len(survivors))
	for _, pid := range survivors {
		alive[pid] = true
	}
	for _, pid := range pending {
		if !alive[pid] {
			report.Terminated = append(report.Terminated, pid)
		}
	}

	for _, pid := range survivors {
		t.forceKill(ctx, report, pid)
	}
	t.tracer.EndBatchSpan(span, len(survivors))
}

// terminateOne is the single-process protocol.
func (t *Terminator) terminateOne(ctx context.Context, report *Report, pid int) {
	running, err := t.table.IsRunning(ctx, pid)
	if err != nil {
		t.suppress(report, pid, err, "checking process")
	}
	if !running && err == nil {
		return
	}

	if !t.requestTerminate(ctx, report, pid) {
		return
	}
	if t.waitAll(ctx, []int{pid}) == nil {
		report.Terminated = append(report.Terminated, pid)
		return
	}
	t.forceKill(ctx, report, pid)
}

// requestTerminate sends the graceful request and reports whether the
// process should be waited on.
func (t *Terminator) requestTerminate(ctx context.Context, report *Report, pid int) bool {
	err := t.table.Terminate(ctx, pid)
	switch {
	case err == nil:
		return true
	case pgerrors.IsAbsent(err):
		return false
	case pgerrors.IsPermission(err):
		t.logger.Warn("no permission to terminate process, skipping", map[string]interface{}{
			"pid": pid,
		})
		report.Skipped = append(report.Skipped, pid)
		return false
	default:
		// The process may still be running; keep it so it is killed if it
		// does not exit.
		t.suppress(report, pid, err, "terminating process")
		return true
	}
}

func (t *Terminator) forceKill(ctx context.Context, report *Report, pid int) {
	t.logger.ProcessEscalated(pid, t.grace)
	err := t.table.Kill(ctx, pid)
	switch {
	case err == nil:
		report.Killed = append(report.Killed, pid)
	case pgerrors.IsAbsent(err):
		report.Terminated = append(report.Terminated, pid)
	case pgerrors.IsPermission(err):
		t.logger.Warn("no permission to kill process, skipping", map[string]interface{}{
			"pid": pid,
		})
		report.Skipped = append(report.Skipped, pid)
	default:
		t.suppress(report, pid, err, "killing process")
	}
}

// waitAll polls every pid concurrently until it exits or the grace period
// ends, and returns the PIDs still running.
func (t *Terminator) waitAll(ctx context.Context, pids []int) []int {
	if len(pids) == 0 {
		return nil
	}

	// The grace period is a floor for every kill, whatever the caller's
	// deadline.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.grace)
	defer cancel()

	stillRunning := make([]bool, len(pids))
	g, gctx := errgroup.WithContext(waitCtx)
	g.SetLimit(maxConcurrentWaits)
	for i, pid := range pids {
		i, pid := i, pid
		g.Go(func() error {
			stillRunning[i] = !t.waitExit(gctx, pid)
			return nil
		})
	}
	_ = g.Wait()

	var survivors []int
	for i, pid := range pids {
		if stillRunning[i] {
			survivors = append(survivors, pid)
		}
	}
	return survivors
}

// waitExit reports whether pid exited before ctx was done.
func (t *Terminator) waitExit(ctx context.Context, pid int) bool {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		running, err := t.table.IsRunning(ctx, pid)
		if err == nil && !running {
			return true
		}
		select {
		case <-ctx.Done():
			// One last look so a process that exited right at the deadline
			// is not killed.
			running, err := t.table.IsRunning(context.WithoutCancel(ctx), pid)
			return err == nil && !running
		case <-ticker.C:
		}
	}
}

func (t *Terminator) suppress(report *Report, pid int, err error, action string) {
	t.logger.Error(action+" failed", map[string]interface{}{
		"pid":   pid,
		"code":  pgerrors.Code(err),
		"error": err.Error(),
	})
	report.Errors = append(report.Errors, err)
}
