// Package liveness exits the host process when its parent goes away.
//
// The monitor checks the parent once per interval on its own goroutine.
// When the parent no longer resolves to a live, non-zombie process it
// exits immediately with code 0. Tasks, the shutdown sequence and the
// process tree are all bypassed: without a parent there is no clean
// shutdown left to do. On Windows, descendants still die with the host
// through the kill-on-close job object.
//
// Any unexpected failure of the check also exits, with code 1.
//
//	mon, err := liveness.New(liveness.DefaultConfig(),
//	    liveness.WithShutdown(sup.Done()))
//	if err != nil {
//	    return err // non-positive interval
//	}
//	mon.Start(ctx)
//
// Between checks the monitor waits on the shutdown channel, so a normal
// shutdown elsewhere ends the loop without waiting out the interval.
package liveness
