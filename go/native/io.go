//go:build !windows

package native

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HostIO reads and writes host file descriptors directly.
type HostIO struct{}

func (HostIO) Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

func (HostIO) Write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

func (HostIO) Now() time.Time { return time.Now() }
