package common

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/winlinos/dwce/go/mem"
	"github.com/winlinos/dwce/go/models"
)

// NTSTATUS values
const (
	STATUS_SUCCESS           = 0x00000000
	STATUS_UNSUCCESSFUL      = 0xC0000001
	STATUS_NOT_IMPLEMENTED   = 0xC0000002
	STATUS_INVALID_HANDLE    = 0xC0000008
	STATUS_INVALID_PARAMETER = 0xC000000D
	STATUS_NO_MEMORY         = 0xC0000017
)

// Status renders err as the native status an ABI expects: an NTSTATUS for
// Windows, a negative errno for Linux and Android.
func Status(abi models.ABI, err error) int64 {
	if err == nil {
		return 0
	}
	if abi == models.Windows {
		return ntStatus(err)
	}
	return -int64(errno(err))
}

func ntStatus(err error) int64 {
	var unmapped *models.UnmappedSyscall
	switch cause := errors.Cause(err); {
	case errors.As(err, &unmapped):
		return STATUS_NOT_IMPLEMENTED
	case cause == models.ErrInvalidArguments:
		return STATUS_INVALID_PARAMETER
	case cause == models.ErrProcessNotFound:
		return STATUS_INVALID_HANDLE
	case cause == mem.ErrNoSpace:
		return STATUS_NO_MEMORY
	}
	return STATUS_UNSUCCESSFUL
}

func errno(err error) syscall.Errno {
	var unmapped *models.UnmappedSyscall
	var en syscall.Errno
	switch cause := errors.Cause(err); {
	case errors.As(err, &unmapped):
		return unix.ENOSYS
	case cause == models.ErrInvalidArguments:
		return unix.EINVAL
	case cause == models.ErrProcessNotFound:
		return unix.ESRCH
	case cause == mem.ErrNoSpace:
		return unix.ENOMEM
	case errors.As(err, &en):
		return en
	}
	return unix.EIO
}
