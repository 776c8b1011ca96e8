package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// Status represents the current state of a task.
type Status string

const (
	// StatusRunning indicates the task function has not returned yet.
	StatusRunning Status = "running"

	// StatusCompleted indicates the task function returned nil.
	StatusCompleted Status = "completed"

	// StatusCanceled indicates the task ended after cancellation was requested.
	StatusCanceled Status = "canceled"

	// StatusFailed indicates the task returned an error or panicked.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the task has ended.
func (s Status) IsTerminal() bool {
	return s != StatusRunning
}

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Task is one goroutine started by a Group.
type Task struct {
	// ID is a unique identifier (uuid).
	ID string

	// Name is a human-readable label used in logs.
	Name string

	// Started is when the goroutine was launched.
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	status   Status
	err      error
	ended    time.Time
	canceled bool
}

// Done is closed when the task function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the error the task ended with, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel requests cooperative cancellation. It does not wait.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.cancel()
}

// Outcome returns the recorded outcome. Only meaningful after Done.
func (t *Task) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Outcome{
		ID:       t.ID,
		Name:     t.Name,
		Status:   t.status,
		Err:      t.err,
		Duration: t.ended.Sub(t.Started),
	}
}

func (t *Task) finish(err error, panicked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ended = time.Now()
	t.err = err
	switch {
	case panicked:
		t.status = StatusFailed
	case err == nil:
		t.status = StatusCompleted
	case t.canceled && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		t.status = StatusCanceled
	case errors.Is(err, context.Canceled):
		// Parent group context was cancelled.
		t.status = StatusCanceled
	default:
		t.status = StatusFailed
	}
}

// Outcome is how a task ended.
type Outcome struct {
	ID       string
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Canceled reports whether the task ended because it was cancelled.
func (o Outcome) Canceled() bool {
	return o.Status == StatusCanceled
}

// Failed reports whether the task ended with an unexpected error or panic.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

type taskIDKey struct{}

// CurrentID returns the ID of the task whose context ctx derives from, or ""
// when ctx does not belong to a task.
func CurrentID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

// Group tracks running tasks.
type Group struct {
	ctx   context.Context
	idGen func() string

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithIDGenerator sets a custom ID generator function.
func WithIDGenerator(gen func() string) GroupOption {
	return func(g *Group) {
		g.idGen = gen
	}
}

// NewGroup creates a group whose tasks derive their contexts from ctx.
func NewGroup(ctx context.Context, opts ...GroupOption) *Group {
	g := &Group{
		ctx:   ctx,
		idGen: uuid.NewString,
		tasks: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Go starts fn in a new goroutine and returns its handle. The task is
// registered before the goroutine starts, so it is visible to Running
// immediately.
func (g *Group) Go(name string, fn Func) *Task {
	id := g.idGen()
	ctx, cancel := context.WithCancel(context.WithValue(g.ctx, taskIDKey{}, id))

	t := &Task{
		ID:      id,
		Name:    name,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  StatusRunning,
	}

	g.mu.Lock()
	g.tasks[id] = t
	g.mu.Unlock()
	g.wg.Add(1)

	go g.run(ctx, t, fn)
	return t
}

func (g *Group) run(ctx context.Context, t *Task, fn Func) {
	defer g.wg.Done()
	defer close(t.done)
	defer t.cancel()
	defer func() {
		g.mu.Lock()
		delete(g.tasks, t.ID)
		g.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			t.finish(pgerrors.Panic(r, pgerrors.WithMetadata("task", t.Name)), true)
		}
	}()

	t.finish(fn(ctx), false)
}

// Running returns the tasks that have not finished, oldest first.
func (g *Group) Running() []*Task {
	g.mu.Lock()
	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Len returns the number of running tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Cancel requests cancellation of every running task except the one with
// ID exceptID, and returns the tasks it cancelled.
func (g *Group) Cancel(exceptID string) []*Task {
	var cancelled []*Task
	for _, t := range g.Running() {
		if t.ID == exceptID {
			continue
		}
		t.Cancel()
		cancelled = append(cancelled, t)
	}
	return cancelled
}

// Wait blocks until every task started so far has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Await blocks until every task in ts has finished and returns their
// outcomes in the same order. There is no timeout; tasks are expected to
// honour cancellation.
func Await(ts []*Task) []Outcome {
	outcomes := make([]Outcome, 0, len(ts))
	for _, t := range ts {
		<-t.Done()
		outcomes = append(outcomes, t.Outcome())
	}
	return outcomes
}
