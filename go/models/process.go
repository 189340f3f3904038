package models

import (
	"context"
	"fmt"
	"time"
)

type ProcessID uint64

type ProcessState int

const (
	Created ProcessState = iota
	Running
	Terminating
	Terminated
)

func (s ProcessState) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("ProcessState(%d)", int(s))
}

// Descriptor is a point-in-time copy of a registry entry. Image is shared
// and must not be modified.
type Descriptor struct {
	ID        ProcessID
	Format    Format
	Path      string
	Image     *LoadedImage
	Pid       int
	State     ProcessState
	StartTime time.Time
	Exit      int
}

// Handle is a started native process.
type Handle interface {
	Pid() int
	// Signal asks the process to exit.
	Signal() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	ExitCode() int
}

type Starter interface {
	Start(ctx context.Context, path string, img *LoadedImage) (Handle, error)
}

type ProcessManager interface {
	Create(ctx context.Context, path string, hint Format) (ProcessID, error)
	Terminate(ctx context.Context, id ProcessID, timeout time.Duration) error
	List() []Descriptor
}

type MemoryManager interface {
	Allocate(id ProcessID, addr, size uint64, prot int) (uint64, error)
}

type HostIO interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Now() time.Time
}
