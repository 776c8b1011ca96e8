//go:build windows

package platform

import (
	"syscall"

	"github.com/vinayprograms/procguard/logging"
)

type windowsPlatform struct {
	*notifier
}

func current() Capabilities {
	return &windowsPlatform{notifier: newNotifier(syscall.SIGTERM)}
}

func (p *windowsPlatform) Name() string {
	return "windows"
}

func (p *windowsPlatform) Cooperative() bool {
	return false
}

func (p *windowsPlatform) RegisterCascadingKill(logger *logging.Logger) error {
	name, err := setupJob()
	logger.JobObject(name, err)
	return err
}
