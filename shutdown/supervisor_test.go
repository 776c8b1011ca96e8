package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/procguard/events"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/platform"
	"github.com/vinayprograms/procguard/proc"
	"github.com/vinayprograms/procguard/tasks"
	"github.com/vinayprograms/procguard/telemetry"
	"github.com/vinayprograms/procguard/terminate"
)

// countingTerminator counts how often the gate's action runs.
type countingTerminator struct {
	calls atomic.Int32
	delay time.Duration
	panic bool
}

func (c *countingTerminator) TerminateTree(ctx context.Context, root int) *terminate.Report {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.panic {
		panic("terminator bug")
	}
	return &terminate.Report{Root: root}
}

func newTestSupervisor(term TreeTerminator, opts ...Option) *Supervisor {
	base := []Option{
		WithRoot(1000),
		WithTerminator(term),
		WithLogger(logging.Nop()),
	}
	return New(append(base, opts...)...)
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	if s.IsSet() {
		t.Fatal("new signal should be unset")
	}
	if s.Wait(10 * time.Millisecond) {
		t.Error("Wait should time out on an unset signal")
	}

	s.Set()
	s.Set()
	if !s.IsSet() {
		t.Error("signal should be set")
	}
	if !s.Wait(time.Hour) {
		t.Error("Wait should return true immediately once set")
	}
}

func TestTerminate_ConcurrentTriggersFireOnce(t *testing.T) {
	term := &countingTerminator{delay: 20 * time.Millisecond}
	sup := newTestSupervisor(term)

	const triggers = 50
	var wg sync.WaitGroup
	var fired atomic.Int32
	start := make(chan struct{})
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if sup.Terminate(context.Background(), "SIGTERM") {
				fired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := term.calls.Load(); n != 1 {
		t.Errorf("tree termination ran %d times, want 1", n)
	}
	if n := fired.Load(); n != 1 {
		t.Errorf("%d callers saw fired=true, want 1", n)
	}
	if !sup.Fired() {
		t.Error("Fired() should be true")
	}
	select {
	case <-sup.Terminated():
	default:
		t.Error("Terminated() should be closed")
	}
}

func TestTerminate_SupervisorsAreIndependent(t *testing.T) {
	a := &countingTerminator{}
	b := &countingTerminator{}

	newTestSupervisor(a).Terminate(context.Background(), "")
	newTestSupervisor(b).Terminate(context.Background(), "")

	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("each supervisor should fire once: a=%d b=%d", a.calls.Load(), b.calls.Load())
	}
}

func TestTerminate_SetsSignalAndRecoversPanic(t *testing.T) {
	sup := newTestSupervisor(&countingTerminator{panic: true})

	if !sup.Terminate(context.Background(), "SIGTERM") {
		t.Fatal("first Terminate should fire")
	}
	select {
	case <-sup.Done():
	default:
		t.Error("gate should set the shutdown signal")
	}
	report := sup.Report()
	if report == nil || len(report.Errors) != 1 {
		t.Fatalf("Report = %+v, want one recorded panic", report)
	}
}

func TestShutdown_DrainsTasksThenTerminates(t *testing.T) {
	term := &countingTerminator{}
	sup := newTestSupervisor(term)
	g := sup.Tasks()

	var stopped atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		g.Go(name, func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			stopped.Add(1)
			return ctx.Err()
		})
	}
	g.Go("broken", func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("cleanup failed")
	})

	result := sup.Shutdown(context.Background(), "SIGINT")

	if stopped.Load() != 3 {
		t.Errorf("%d tasks stopped before termination, want 3", stopped.Load())
	}
	if len(result.Tasks) != 4 {
		t.Errorf("result has %d outcomes, want 4", len(result.Tasks))
	}
	if failed := result.FailedTasks(); len(failed) != 1 || failed[0] != "broken" {
		t.Errorf("FailedTasks = %v, want [broken]", failed)
	}
	if !result.Fired || result.Report == nil {
		t.Errorf("sequence should fire the gate: %+v", result)
	}
	if term.calls.Load() != 1 {
		t.Errorf("terminator calls = %d, want 1", term.calls.Load())
	}
	if g.Len() != 0 {
		t.Errorf("%d tasks still running", g.Len())
	}
}

func TestShutdown_FromInsideTaskExcludesSelf(t *testing.T) {
	term := &countingTerminator{}
	sup := newTestSupervisor(term)
	g := sup.Tasks()

	other := g.Go("other", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	results := make(chan *Result, 1)
	self := g.Go("sequencer", func(ctx context.Context) error {
		results <- sup.Shutdown(ctx, "")
		return nil
	})

	select {
	case r := <-results:
		if len(r.Tasks) != 1 || r.Tasks[0].ID != other.ID {
			t.Errorf("sequence should drain only the other task, got %+v", r.Tasks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sequence deadlocked waiting on itself")
	}
	<-self.Done()
	if self.Status() != tasks.StatusCompleted {
		t.Errorf("sequencer task status = %s, want completed", self.Status())
	}
}

func TestShutdown_SecondSequenceDoesNotFire(t *testing.T) {
	term := &countingTerminator{}
	sup := newTestSupervisor(term)

	first := sup.Shutdown(context.Background(), "SIGINT")
	second := sup.Shutdown(context.Background(), "SIGTERM")

	if !first.Fired || second.Fired {
		t.Errorf("fired: first=%v second=%v", first.Fired, second.Fired)
	}
	if term.calls.Load() != 1 {
		t.Errorf("terminator calls = %d, want 1", term.calls.Load())
	}
}

func TestShutdown_PublishesLifecycleEvents(t *testing.T) {
	pub := events.NewMemoryPublisher()
	sup := newTestSupervisor(&countingTerminator{}, WithPublisher(pub))
	sup.Tasks().Go("t", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	sup.Shutdown(context.Background(), "SIGINT")

	var got []events.Type
	for _, e := range pub.Events() {
		got = append(got, e.Type)
		if e.Supervisor != sup.ID() {
			t.Errorf("event %s has supervisor %q, want %q", e.Type, e.Supervisor, sup.ID())
		}
	}
	want := []events.Type{events.TypeShutdownStarted, events.TypeTasksDrained, events.TypeTreeTerminated}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if drained := pub.OfType(events.TypeTasksDrained); drained[0].Count != 1 {
		t.Errorf("tasks_drained count = %d, want 1", drained[0].Count)
	}
}

func TestHandleSignals_Cooperative(t *testing.T) {
	term := &countingTerminator{}
	sup := newTestSupervisor(term)
	caps := platform.NewManual(true)

	if err := sup.HandleSignals(caps); err != nil {
		t.Fatalf("HandleSignals: %v", err)
	}
	if err := sup.HandleSignals(caps); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second HandleSignals = %v, want ErrAlreadyBound", err)
	}

	blocker := sup.Tasks().Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	caps.Deliver(syscall.SIGINT)
	sup.Wait()

	if blocker.Status() != tasks.StatusCanceled {
		t.Errorf("task status = %s, want canceled", blocker.Status())
	}
	if term.calls.Load() != 1 {
		t.Errorf("terminator calls = %d, want 1", term.calls.Load())
	}
	if !caps.Released() {
		t.Error("bindings should be released before the tree is terminated")
	}
}

func TestHandleSignals_ImmediateSkipsDrain(t *testing.T) {
	term := &countingTerminator{}
	sup := newTestSupervisor(term)
	caps := platform.NewManual(false)

	if err := sup.HandleSignals(caps); err != nil {
		t.Fatalf("HandleSignals: %v", err)
	}

	task := sup.Tasks().Go("untouched", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer task.Cancel()

	caps.Deliver(syscall.SIGTERM)

	if term.calls.Load() != 1 {
		t.Errorf("terminator calls = %d, want 1 synchronously", term.calls.Load())
	}
	if task.Status() != tasks.StatusRunning {
		t.Errorf("immediate path should not drain tasks, status = %s", task.Status())
	}
}

func TestTerminate_WithTableTerminator(t *testing.T) {
	table := proc.NewMemoryTable()
	table.Add(proc.MemoryProcess{PID: 10}, proc.MemoryProcess{PID: 11, Parent: 10})

	sup := New(
		WithRoot(10),
		WithLogger(logging.Nop()),
		WithTerminator(terminate.New(table, terminate.WithLogger(logging.Nop()))),
	)
	sup.Terminate(context.Background(), "")

	report := sup.Report()
	if len(report.Descendants) != 1 || len(report.Terminated) != 2 {
		t.Errorf("report = %+v", report)
	}
	if sup.ID() == "" {
		t.Error("supervisor should have an ID")
	}
}

func TestShutdown_CancelledContextKeepsGrace(t *testing.T) {
	const grace = 100 * time.Millisecond

	table := proc.NewMemoryTable()
	table.Add(
		proc.MemoryProcess{PID: 10},
		proc.MemoryProcess{PID: 11, Parent: 10, IgnoreTerminate: true},
	)
	sup := New(
		WithRoot(10),
		WithLogger(logging.Nop()),
		WithTerminator(terminate.New(table,
			terminate.WithGracePeriod(grace),
			terminate.WithPollInterval(5*time.Millisecond),
			terminate.WithLogger(logging.Nop()),
		)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := sup.Shutdown(ctx, "SIGTERM")

	if !result.Fired {
		t.Fatal("sequence should fire the gate")
	}
	calls := table.CallsFor(11)
	if len(calls) != 2 || calls[0].Op != proc.OpTerminate || calls[1].Op != proc.OpKill {
		t.Fatalf("pid 11 calls = %+v, want terminate then kill", calls)
	}
	if gap := calls[1].At.Sub(calls[0].At); gap < grace {
		t.Errorf("kill came %v after terminate, want at least %v", gap, grace)
	}
}

// spanCheckingTerminator records how many spans were exported when the
// gate's action started.
type spanCheckingTerminator struct {
	exp      *tracetest.InMemoryExporter
	exported []string
}

func (c *spanCheckingTerminator) TerminateTree(ctx context.Context, root int) *terminate.Report {
	for _, s := range c.exp.GetSpans() {
		c.exported = append(c.exported, s.Name)
	}
	return &terminate.Report{Root: root}
}

func TestShutdown_SpanExportedBeforeGate(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(time.Hour)))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	term := &spanCheckingTerminator{exp: exp}
	sup := newTestSupervisor(term, WithTracer(telemetry.NewTracerFromProvider(tp, "test")))
	sup.Shutdown(context.Background(), "SIGINT")

	if len(term.exported) != 1 || term.exported[0] != "shutdown.sequence" {
		t.Errorf("spans exported before the gate = %v, want [shutdown.sequence]", term.exported)
	}
}
