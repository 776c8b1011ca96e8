// Package proc is procguard's view of the OS process table.
//
// Everything here is re-queried on every call; nothing is cached. Failures
// are returned as structured errors from package errors so callers can tell
// "already gone" (absence) from "not allowed" (permission) from anything
// else (internal).
package proc

import (
	"context"
	"fmt"
	"strings"
)

// Table enumerates and signals processes.
type Table interface {
	// Descendants returns every transitive child of pid, parents before
	// their children.
	Descendants(ctx context.Context, pid int) ([]int, error)

	// Terminate sends a graceful termination request.
	Terminate(ctx context.Context, pid int) error

	// Kill forcefully stops the process.
	Kill(ctx context.Context, pid int) error

	// IsRunning reports whether pid is a live, non-zombie process.
	// A missing process is (false, nil), not an error.
	IsRunning(ctx context.Context, pid int) (bool, error)
}

// LivenessChecker answers whether a process is observably alive.
type LivenessChecker interface {
	// Alive returns nil if pid is alive. Otherwise it returns one of the
	// absence errors (NO_SUCH_PROCESS, VANISHED, ZOMBIE), ACCESS_DENIED, or
	// any other error for unexpected failures.
	Alive(ctx context.Context, pid int) error
}

// Node is a transient view of one process and its children.
type Node struct {
	PID      int
	Name     string
	Running  bool
	Children []*Node
}

// Walk visits n and all its descendants depth-first.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(node *Node, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Count returns the number of nodes in the tree rooted at n.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node, int) { count++ })
	return count
}

// String renders the tree one process per line, indented by depth.
func (n *Node) String() string {
	var b strings.Builder
	n.Walk(func(node *Node, depth int) {
		state := "running"
		if !node.Running {
			state = "exited"
		}
		fmt.Fprintf(&b, "%s%d %s (%s)\n", strings.Repeat("  ", depth), node.PID, node.Name, state)
	})
	return b.String()
}
