package proc

import (
	"context"
	"sort"
	"sync"
	"time"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// Op identifies a call recorded by MemoryTable.
type Op string

const (
	OpTerminate Op = "terminate"
	OpKill      Op = "kill"
)

// Call is one recorded signalling call.
type Call struct {
	Op  Op
	PID int
	At  time.Time
}

// MemoryProcess describes a fake process.
type MemoryProcess struct {
	PID    int
	Parent int
	Name   string

	// IgnoreTerminate makes the process survive graceful requests.
	IgnoreTerminate bool

	// ExitDelay delays exit after a graceful request.
	ExitDelay time.Duration

	// TerminateErr is returned from Terminate instead of acting.
	TerminateErr error
}

type memProc struct {
	MemoryProcess
	exited   bool
	aliveErr error
}

// MemoryTable is an in-memory Table and LivenessChecker for testing.
type MemoryTable struct {
	mu             sync.Mutex
	procs          map[int]*memProc
	calls          []Call
	descendantsErr error
}

var (
	_ Table           = (*MemoryTable)(nil)
	_ LivenessChecker = (*MemoryTable)(nil)
)

// NewMemoryTable creates an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		procs: make(map[int]*memProc),
	}
}

// Add registers processes.
func (m *MemoryTable) Add(procs ...MemoryProcess) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range procs {
		m.procs[p.PID] = &memProc{MemoryProcess: p}
	}
}

// Exit marks pid as exited, as if it left on its own.
func (m *MemoryTable) Exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[pid]; ok {
		p.exited = true
	}
}

// SetAliveError makes Alive(pid) return err.
func (m *MemoryTable) SetAliveError(pid int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	if !ok {
		p = &memProc{MemoryProcess: MemoryProcess{PID: pid}}
		m.procs[pid] = p
	}
	p.aliveErr = err
}

// FailDescendants makes Descendants return err.
func (m *MemoryTable) FailDescendants(err error) {
	m.mu.Lock()
	m.descendantsErr = err
	m.mu.Unlock()
}

// Calls returns a copy of recorded calls in order.
func (m *MemoryTable) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns recorded calls for one PID.
func (m *MemoryTable) CallsFor(pid int) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.PID == pid {
			out = append(out, c)
		}
	}
	return out
}

// Descendants implements Table.
func (m *MemoryTable) Descendants(ctx context.Context, pid int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.descendantsErr != nil {
		return nil, m.descendantsErr
	}
	if p, ok := m.procs[pid]; !ok || p.exited {
		return nil, pgerrors.NoSuchProcess(pid)
	}

	var result []int
	queue := []int{pid}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		var children []int
		for _, p := range m.procs {
			if p.Parent == parent && p.PID != parent && !p.exited {
				children = append(children, p.PID)
			}
		}
		sort.Ints(children)
		result = append(result, children...)
		queue = append(queue, children...)
	}
	return result, nil
}

// Terminate implements Table.
func (m *MemoryTable) Terminate(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpTerminate, PID: pid, At: time.Now()})

	p, ok := m.procs[pid]
	if !ok || p.exited {
		return pgerrors.NoSuchProcess(pid)
	}
	if p.TerminateErr != nil {
		return p.TerminateErr
	}
	if p.IgnoreTerminate {
		return nil
	}
	if p.ExitDelay > 0 {
		time.AfterFunc(p.ExitDelay, func() { m.Exit(pid) })
		return nil
	}
	p.exited = true
	return nil
}

// Kill implements Table.
func (m *MemoryTable) Kill(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpKill, PID: pid, At: time.Now()})

	p, ok := m.procs[pid]
	if !ok || p.exited {
		return pgerrors.NoSuchProcess(pid)
	}
	p.exited = true
	return nil
}

// IsRunning implements Table.
func (m *MemoryTable) IsRunning(ctx context.Context, pid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return ok && !p.exited, nil
}

// Alive implements LivenessChecker.
func (m *MemoryTable) Alive(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.procs[pid]
	if ok && p.aliveErr != nil {
		return p.aliveErr
	}
	if !ok || p.exited {
		return pgerrors.NoSuchProcess(pid)
	}
	return nil
}
