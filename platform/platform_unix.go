//go:build !windows

package platform

import (
	"os"
	"syscall"

	"github.com/vinayprograms/procguard/logging"
)

type posix struct {
	*notifier
}

func current() Capabilities {
	return &posix{notifier: newNotifier(os.Interrupt, syscall.SIGTERM)}
}

func (p *posix) Name() string {
	return "posix"
}

func (p *posix) Cooperative() bool {
	return true
}

// RegisterCascadingKill is a no-op: POSIX has no kill-on-close grouping,
// so descendants are reached through the tree terminator instead.
func (p *posix) RegisterCascadingKill(logger *logging.Logger) error {
	return nil
}
