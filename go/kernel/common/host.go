package common

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

// HostKernel implements the canonical operations by forwarding to the
// process manager, the memory manager and host I/O.
type HostKernel struct {
	KernelBase
	Procs  models.ProcessManager
	Mem    models.MemoryManager
	IO     models.HostIO
	Config *models.Config
}

func NewHostKernel(procs models.ProcessManager, mem models.MemoryManager, io models.HostIO, config *models.Config) *HostKernel {
	if config == nil {
		config = models.DefaultConfig()
	}
	return &HostKernel{Procs: procs, Mem: mem, IO: io, Config: config}
}

func (k *HostKernel) CreateProcess(ctx context.Context, path string, hint models.Format) (models.ProcessID, error) {
	if path == "" {
		return 0, errors.Wrap(models.ErrInvalidArguments, "empty path")
	}
	return k.Procs.Create(ctx, path, hint)
}

func (k *HostKernel) TerminateProcess(ctx context.Context, id models.ProcessID) error {
	return k.Procs.Terminate(ctx, id, k.Config.TerminateTimeout)
}

func (k *HostKernel) AllocateMemory(id models.ProcessID, addr, size uint64, prot int) (uint64, error) {
	if size == 0 {
		return 0, errors.Wrap(models.ErrInvalidArguments, "zero-length allocation")
	}
	if limit := k.Config.AllocLimit(); size > limit {
		return 0, errors.Wrapf(models.ErrInvalidArguments, "allocation of %#x bytes exceeds %#x", size, limit)
	}
	return k.Mem.Allocate(id, addr, size, prot&models.PROT_ALL)
}

func (k *HostKernel) ReadFile(fd int, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "negative read length %d", n)
	}
	if limit := k.Config.ReadLimit(); n > limit {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "read length %d exceeds %d", n, limit)
	}
	buf := make([]byte, n)
	count, err := k.IO.Read(fd, buf)
	if count < 0 {
		count = 0
	}
	return buf[:count], errors.WithStack(err)
}

// WriteFile writes the first n bytes of p. A negative n writes all of p.
func (k *HostKernel) WriteFile(fd int, p []byte, n int) (int, error) {
	if n > len(p) {
		return 0, errors.Wrapf(models.ErrInvalidArguments, "write length %d exceeds buffer of %d", n, len(p))
	}
	if n < 0 {
		n = len(p)
	}
	count, err := k.IO.Write(fd, p[:n])
	return count, errors.WithStack(err)
}

func (k *HostKernel) GetTime() (time.Time, error) {
	return k.IO.Now(), nil
}
