//go:build windows

package proc

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isNoSuchProcess reports the errors OpenProcess returns for a PID that is
// no longer in use.
func isNoSuchProcess(err error) bool {
	return errors.Is(err, windows.ERROR_INVALID_PARAMETER) ||
		errors.Is(err, windows.ERROR_NOT_FOUND)
}

// isAccessDenied reports ERROR_ACCESS_DENIED.
func isAccessDenied(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
