//go:build !windows

package proc

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isNoSuchProcess reports ESRCH from kill(2) and friends.
func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// isAccessDenied reports EPERM/EACCES.
func isAccessDenied(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}
