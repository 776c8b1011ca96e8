// Package shutdown owns the termination gate and the shutdown sequence.
//
// # Overview
//
// A Supervisor ties together the three ways a host process can end up
// shutting down:
//
//	  OS signal ──────────┐
//	                      ├──► Shutdown (drain tasks) ──┐
//	  explicit Shutdown ──┘                              ├──► Terminate (gate) ──► process tree
//	  Windows SIGTERM ──────────────────────────────────┘
//
// The gate (Terminate) runs the tree-termination action at most once per
// Supervisor, whatever mix of triggers fire and however concurrently. It is
// an atomic compare-and-swap, not a lock.
//
// The shutdown Signal is a separate set-once flag. Setting it does not
// terminate anything; it wakes cooperative waiters such as the liveness
// monitor so they stop promptly.
//
// # Usage
//
//	sup := shutdown.New(shutdown.WithLogger(logger))
//	if err := sup.HandleSignals(platform.Current()); err != nil {
//	    return err
//	}
//
//	sup.Tasks().Go("worker", func(ctx context.Context) error {
//	    <-ctx.Done()
//	    return ctx.Err()
//	})
//
//	<-sup.Done()
//
// On POSIX systems SIGINT and SIGTERM each start the sequence on a new
// goroutine. On Windows SIGTERM goes straight to the gate because there is
// no cooperative path.
//
// # Sequence
//
// Shutdown sets the signal, cancels every task in the group except the one
// it is running in, waits for them all without a timeout of its own, then
// fires the gate. Task failures are logged and returned in the Result but
// never stop the sequence.
//
// # Self-termination
//
// By default the gate's root is the host process itself, terminated last.
// Signal bindings are released first so the terminate request the host
// sends itself takes the default action instead of re-entering the
// sequence.
package shutdown
