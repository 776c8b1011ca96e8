package platform

import (
	"errors"
	"os"
	"runtime"
	"syscall"
	"testing"

	"github.com/vinayprograms/procguard/logging"
)

func TestCurrent(t *testing.T) {
	caps := Current()

	if runtime.GOOS == "windows" {
		if caps.Cooperative() {
			t.Error("windows should not be cooperative")
		}
		if len(caps.Signals()) != 1 {
			t.Errorf("windows should route only terminate, got %v", caps.Signals())
		}
		return
	}

	if !caps.Cooperative() {
		t.Error("posix should be cooperative")
	}
	sigs := caps.Signals()
	if len(sigs) != 2 || sigs[0] != os.Interrupt || sigs[1] != syscall.SIGTERM {
		t.Errorf("Signals() = %v, want [interrupt terminated]", sigs)
	}
	if err := caps.RegisterCascadingKill(logging.Nop()); err != nil {
		t.Errorf("RegisterCascadingKill on posix = %v, want nil", err)
	}
}

func TestNotifier_BindOnce(t *testing.T) {
	n := newNotifier(syscall.SIGTERM)
	defer n.Release()

	if err := n.Bind(func(os.Signal) {}); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if err := n.Bind(func(os.Signal) {}); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind = %v, want ErrAlreadyBound", err)
	}
}

func TestNotifier_ReleaseIdempotent(t *testing.T) {
	n := newNotifier(syscall.SIGTERM)

	n.Release()
	n.Release()
	if err := n.Bind(func(os.Signal) {}); !errors.Is(err, ErrReleased) {
		t.Errorf("Bind after Release = %v, want ErrReleased", err)
	}
}

func TestDeliver_RecoversPanic(t *testing.T) {
	called := false
	deliver(logging.Nop(), func(os.Signal) {
		called = true
		panic("handler bug")
	}, syscall.SIGTERM)

	if !called {
		t.Error("handler was not called")
	}
}

func TestManual(t *testing.T) {
	m := NewManual(true)

	if m.Deliver(syscall.SIGTERM) {
		t.Error("Deliver without a handler should report false")
	}

	var got os.Signal
	if err := m.Bind(func(sig os.Signal) { got = sig }); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := m.Bind(func(os.Signal) {}); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind = %v, want ErrAlreadyBound", err)
	}

	if !m.Deliver(os.Interrupt) || got != os.Interrupt {
		t.Errorf("handler got %v, want interrupt", got)
	}

	m.Release()
	if !m.Released() {
		t.Error("Released() should be true")
	}
	if m.Deliver(os.Interrupt) {
		t.Error("Deliver after Release should report false")
	}

	m.CascadingKillErr = errors.New("no jobs")
	if err := m.RegisterCascadingKill(logging.Nop()); err == nil {
		t.Error("expected configured error")
	}
	if m.CascadingKillCalls() != 1 {
		t.Errorf("CascadingKillCalls = %d, want 1", m.CascadingKillCalls())
	}
}
