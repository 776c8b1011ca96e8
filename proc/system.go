package proc

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// SystemTable implements Table and LivenessChecker against the real OS
// process table through gopsutil.
type SystemTable struct{}

// NewSystemTable creates a table backed by the OS.
func NewSystemTable() *SystemTable {
	return &SystemTable{}
}

var (
	_ Table           = (*SystemTable)(nil)
	_ LivenessChecker = (*SystemTable)(nil)
)

// open resolves pid to a gopsutil handle.
func (t *SystemTable) open(ctx context.Context, pid int) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, pgerrors.NoSuchProcess(pid, pgerrors.WithCause(err))
		}
		return nil, classify(pid, err)
	}
	return p, nil
}

// Descendants walks the process tree below pid breadth-first.
// Children that vanish during the walk are skipped.
func (t *SystemTable) Descendants(ctx context.Context, pid int) ([]int, error) {
	root, err := t.open(ctx, pid)
	if err != nil {
		return nil, err
	}

	var result []int
	queue := []*process.Process{root}
	seen := map[int32]bool{root.Pid: true}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			if errors.Is(err, process.ErrorNoChildren) {
				continue
			}
			cerr := classify(int(p.Pid), err)
			if pgerrors.IsAbsent(cerr) && p.Pid != root.Pid {
				continue
			}
			return result, cerr
		}

		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			result = append(result, int(c.Pid))
			queue = append(queue, c)
		}
	}
	return result, nil
}

// Tree builds a Node tree rooted at pid.
func (t *SystemTable) Tree(ctx context.Context, pid int) (*Node, error) {
	p, err := t.open(ctx, pid)
	if err != nil {
		return nil, err
	}
	return t.node(ctx, p, map[int32]bool{}), nil
}

func (t *SystemTable) node(ctx context.Context, p *process.Process, seen map[int32]bool) *Node {
	seen[p.Pid] = true
	n := &Node{PID: int(p.Pid)}
	n.Name, _ = p.NameWithContext(ctx)
	n.Running, _ = t.IsRunning(ctx, int(p.Pid))

	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return n
	}
	for _, c := range children {
		if seen[c.Pid] {
			continue
		}
		n.Children = append(n.Children, t.node(ctx, c, seen))
	}
	return n
}

// Terminate sends SIGTERM (TerminateProcess on Windows).
func (t *SystemTable) Terminate(ctx context.Context, pid int) error {
	p, err := t.open(ctx, pid)
	if err != nil {
		return err
	}
	return classify(pid, p.TerminateWithContext(ctx))
}

// Kill sends SIGKILL (TerminateProcess on Windows).
func (t *SystemTable) Kill(ctx context.Context, pid int) error {
	p, err := t.open(ctx, pid)
	if err != nil {
		return err
	}
	return classify(pid, p.KillWithContext(ctx))
}

// IsRunning reports whether pid exists and is not a zombie. Zombies are
// treated as exited so waits on unreaped children do not run out the
// whole grace period.
func (t *SystemTable) IsRunning(ctx context.Context, pid int) (bool, error) {
	p, err := t.open(ctx, pid)
	if err != nil {
		if pgerrors.IsAbsent(err) {
			return false, nil
		}
		return false, err
	}

	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		cerr := classify(pid, err)
		if pgerrors.IsAbsent(cerr) {
			return false, nil
		}
		return false, cerr
	}
	if !running {
		return false, nil
	}

	zombie, err := isZombie(ctx, p)
	if err != nil {
		if cerr := classify(pid, err); pgerrors.IsAbsent(cerr) {
			return false, nil
		}
		// Status is best effort here; the process did answer IsRunning.
		return true, nil
	}
	return !zombie, nil
}

// Alive implements LivenessChecker.
func (t *SystemTable) Alive(ctx context.Context, pid int) error {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return classify(pid, err)
	}
	if !exists {
		return pgerrors.NoSuchProcess(pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return pgerrors.Vanished(pid, pgerrors.WithCause(err))
		}
		return classify(pid, err)
	}

	zombie, err := isZombie(ctx, p)
	if err != nil {
		cerr := classify(pid, err)
		if pgerrors.IsAbsent(cerr) {
			return pgerrors.Vanished(pid, pgerrors.WithCause(err))
		}
		return cerr
	}
	if zombie {
		return pgerrors.Zombie(pid)
	}
	return nil
}

func isZombie(ctx context.Context, p *process.Process) (bool, error) {
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range status {
		if s == process.Zombie {
			return true, nil
		}
	}
	return false, nil
}

// classify maps an OS or gopsutil error onto the structured taxonomy.
func classify(pid int, err error) error {
	switch {
	case err == nil:
		return nil
	case pgerrors.AsSupervisorError(err) != nil:
		return err
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, os.ErrProcessDone),
		errors.Is(err, os.ErrNotExist),
		isNoSuchProcess(err):
		return pgerrors.Vanished(pid, pgerrors.WithCause(err))
	case errors.Is(err, process.ErrorNotPermitted),
		errors.Is(err, os.ErrPermission),
		isAccessDenied(err):
		return pgerrors.AccessDenied(pid, pgerrors.WithCause(err))
	default:
		return pgerrors.Wrap(err, fmt.Sprintf("process %d", pid), pgerrors.WithPID(pid))
	}
}
