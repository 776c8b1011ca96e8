package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGroupGoAndOutcomes(t *testing.T) {
	g := NewGroup(context.Background())

	ok := g.Go("ok", func(ctx context.Context) error { return nil })
	bad := g.Go("bad", func(ctx context.Context) error { return errors.New("boom") })

	outcomes := Await([]*Task{ok, bad})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Status != StatusCompleted {
		t.Errorf("ok status = %s, want completed", outcomes[0].Status)
	}
	if !outcomes[1].Failed() || outcomes[1].Err == nil {
		t.Errorf("bad outcome = %+v, want failed", outcomes[1])
	}
	if g.Len() != 0 {
		t.Errorf("finished tasks should leave the group, %d remain", g.Len())
	}
}

func TestGroupCancelExceptCaller(t *testing.T) {
	g := NewGroup(context.Background())

	a := g.Go("a", blockUntilCancelled)
	b := g.Go("b", blockUntilCancelled)

	if got := len(g.Running()); got != 2 {
		t.Fatalf("Running() = %d tasks, want 2", got)
	}

	cancelled := g.Cancel(a.ID)
	if len(cancelled) != 1 || cancelled[0] != b {
		t.Fatalf("Cancel should skip the excepted task, got %v", cancelled)
	}

	outcomes := Await(cancelled)
	if !outcomes[0].Canceled() {
		t.Errorf("b outcome = %s, want canceled", outcomes[0].Status)
	}

	select {
	case <-a.Done():
		t.Fatal("excepted task should still be running")
	default:
	}

	a.Cancel()
	<-a.Done()
	if a.Status() != StatusCanceled {
		t.Errorf("a status = %s, want canceled", a.Status())
	}
}

func TestGroupPanicIsRecorded(t *testing.T) {
	g := NewGroup(context.Background())

	task := g.Go("panicky", func(ctx context.Context) error {
		panic("kaboom")
	})
	<-task.Done()

	out := task.Outcome()
	if !out.Failed() {
		t.Errorf("status = %s, want failed", out.Status)
	}
	if !pgerrors.Is(out.Err, pgerrors.ErrCodePanic) {
		t.Errorf("err = %v, want PANIC", out.Err)
	}
}

func TestCurrentID(t *testing.T) {
	g := NewGroup(context.Background())

	if CurrentID(context.Background()) != "" {
		t.Error("background context should have no task ID")
	}

	seen := make(chan string, 1)
	task := g.Go("self", func(ctx context.Context) error {
		seen <- CurrentID(ctx)
		return nil
	})
	<-task.Done()

	if id := <-seen; id != task.ID {
		t.Errorf("CurrentID = %q, want %q", id, task.ID)
	}
}

func TestGroupParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGroup(ctx)

	task := g.Go("child", blockUntilCancelled)
	cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
	if task.Status() != StatusCanceled {
		t.Errorf("status = %s, want canceled", task.Status())
	}
}

func TestWithIDGenerator(t *testing.T) {
	n := 0
	g := NewGroup(context.Background(), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}))

	task := g.Go("x", func(ctx context.Context) error { return nil })
	if task.ID != "task-1" {
		t.Errorf("ID = %q, want task-1", task.ID)
	}
	g.Wait()
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusCanceled, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}
