// Package tasks runs cooperatively cancellable units of work as goroutines.
//
// A Group owns every task started through it. Each task gets its own
// cancellable context derived from the group's context, carries its ID in
// that context, and records how it ended:
//
//	g := tasks.NewGroup(ctx)
//	g.Go("poller", func(ctx context.Context) error {
//	    <-ctx.Done()
//	    return ctx.Err()
//	})
//
//	// Later, from code that may itself be running as a task:
//	cancelled := g.Cancel(tasks.CurrentID(ctx))
//	outcomes := tasks.Await(cancelled)
//
// # Outcomes
//
// A task ends in one of three states:
//
//	running → completed   fn returned nil
//	        → canceled    fn returned after its context was cancelled
//	        → failed      fn returned another error, or panicked
//
// Panics are recovered and recorded as PANIC errors; they never escape the
// task goroutine.
//
// # Thread Safety
//
// Group and Task are safe for concurrent use.
package tasks
