package platform

import (
	"os"
	"sync"

	"github.com/vinayprograms/procguard/logging"
)

// Manual is a Capabilities for tests. Signals are delivered by calling
// Deliver instead of by the OS.
type Manual struct {
	// Family is returned by Name. Defaults to "manual".
	Family string

	// IsCooperative is returned by Cooperative.
	IsCooperative bool

	// Routed is returned by Signals.
	Routed []os.Signal

	// CascadingKillErr is returned by RegisterCascadingKill.
	CascadingKillErr error

	mu           sync.Mutex
	handler      Handler
	released     bool
	cascadeCalls int
	logger       *logging.Logger
}

var _ Capabilities = (*Manual)(nil)

// NewManual creates a Manual platform.
func NewManual(cooperative bool) *Manual {
	return &Manual{
		IsCooperative: cooperative,
		logger:        logging.Nop(),
	}
}

func (m *Manual) Name() string {
	if m.Family == "" {
		return "manual"
	}
	return m.Family
}

func (m *Manual) Cooperative() bool {
	return m.IsCooperative
}

func (m *Manual) Signals() []os.Signal {
	return m.Routed
}

func (m *Manual) Bind(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	if m.handler != nil {
		return ErrAlreadyBound
	}
	m.handler = h
	return nil
}

func (m *Manual) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	m.handler = nil
}

func (m *Manual) RegisterCascadingKill(logger *logging.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cascadeCalls++
	return m.CascadingKillErr
}

// Deliver hands sig to the bound handler on the calling goroutine and
// reports whether a handler was bound.
func (m *Manual) Deliver(sig os.Signal) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	logger := m.logger
	if logger == nil {
		logger = logging.Nop()
	}
	deliver(logger, h, sig)
	return true
}

// Released reports whether Release was called.
func (m *Manual) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// CascadingKillCalls returns how often RegisterCascadingKill was called.
func (m *Manual) CascadingKillCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cascadeCalls
}
