//go:build windows

package platform

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// The job is process-wide: it is created once and the host stays assigned
// to it for its whole life. The handle is never closed, since closing it
// would kill the host.
var (
	jobOnce   sync.Once
	jobName   string
	jobHandle windows.Handle
	jobErr    error
)

func setupJob() (string, error) {
	jobOnce.Do(func() {
		jobName = fmt.Sprintf("ProcguardJob_%d", os.Getpid())
		jobHandle, jobErr = createKillOnCloseJob(jobName)
	})
	return jobName, jobErr
}

func createKillOnCloseJob(name string) (windows.Handle, error) {
	job, err := newKillOnCloseJob(name)
	if err != nil {
		return 0, err
	}
	if err := assignToJob(job, windows.CurrentProcess(), os.Getpid()); err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

// newKillOnCloseJob creates a named job whose members die when its last
// handle is closed.
func newKillOnCloseJob(name string) (windows.Handle, error) {
	if err := windows.NewLazySystemDLL("kernel32.dll").NewProc("CreateJobObjectW").Find(); err != nil {
		return 0, pgerrors.CapabilityMissing("job objects not available", pgerrors.WithCause(err))
	}

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, pgerrors.InvalidConfig("job name: "+name, pgerrors.WithCause(err))
	}

	job, err := windows.CreateJobObject(nil, namePtr)
	if err != nil {
		return 0, pgerrors.Wrap(err, "creating job object")
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return 0, pgerrors.Wrap(err, "configuring job object")
	}
	return job, nil
}

func assignToJob(job, process windows.Handle, pid int) error {
	return classifyAssignError(pid, windows.AssignProcessToJobObject(job, process))
}

func classifyAssignError(pid int, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return pgerrors.AccessDenied(pid, pgerrors.WithCause(err))
	default:
		return pgerrors.Wrap(err, "assigning process to job object", pgerrors.WithPID(pid))
	}
}
