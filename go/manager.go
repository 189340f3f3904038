package dwce

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/mem"
	"github.com/winlinos/dwce/go/models"
)

// ImageLoader parses the file at path and maps it into m.
type ImageLoader interface {
	LoadFile(path string, hint models.Format, m models.Mapper) (*models.LoadedImage, error)
}

type proc struct {
	desc   models.Descriptor
	handle models.Handle
	space  *mem.Space

	// closed once the start attempt finished, successfully or not
	started chan struct{}
	// closed once the entry left the registry
	gone     chan struct{}
	goneOnce sync.Once
	// closed by the reaper after the host process exited
	exited chan struct{}
}

// Manager is the process registry. Identifiers are allocated from a
// monotonically increasing high-water mark and never reused.
type Manager struct {
	L       hclog.Logger
	Loader  ImageLoader
	Starter models.Starter
	Config  *models.Config

	mu        sync.RWMutex
	highWater models.ProcessID
	procs     map[models.ProcessID]*proc
	// exit codes of processes that already left the registry, oldest first
	exits     map[models.ProcessID]int
	exitOrder []models.ProcessID
}

// EXIT_HISTORY bounds how many exit codes Wait can still report after the
// process was reaped.
const EXIT_HISTORY = 1024

func NewManager(loader ImageLoader, starter models.Starter, config *models.Config) *Manager {
	if config == nil {
		config = models.DefaultConfig()
	}
	return &Manager{
		L:       log.L.Named("procs"),
		Loader:  loader,
		Starter: starter,
		Config:  config,
		procs:   make(map[models.ProcessID]*proc),
		exits:   make(map[models.ProcessID]int),
	}
}

// Create loads the image at path and starts it. Nothing is registered when
// loading fails. A failed start leaves a gap in the identifier sequence.
func (m *Manager) Create(ctx context.Context, path string, hint models.Format) (models.ProcessID, error) {
	space := mem.NewSpace(64)
	img, err := m.Loader.LoadFile(path, hint, space)
	if err != nil {
		return 0, &models.LoadFailed{Path: path, Stage: "load", Err: err}
	}

	p := &proc{
		space:   space,
		started: make(chan struct{}),
		gone:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	m.mu.Lock()
	m.highWater++
	id := m.highWater
	if _, ok := m.procs[id]; ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("process id %d allocated twice", id))
	}
	p.desc = models.Descriptor{
		ID:        id,
		Format:    img.Format,
		Path:      path,
		Image:     img,
		State:     models.Created,
		StartTime: time.Now(),
	}
	m.procs[id] = p
	m.mu.Unlock()

	h, err := m.Starter.Start(ctx, path, img)
	m.mu.Lock()
	if err != nil {
		m.remove(p)
		m.mu.Unlock()
		close(p.started)
		m.L.Warn("start failed", "id", id, "path", path, "error", err)
		return 0, &models.LoadFailed{Path: path, Stage: "start", Err: err}
	}
	p.handle = h
	p.desc.Pid = h.Pid()
	p.desc.State = models.Running
	m.mu.Unlock()
	close(p.started)

	m.L.Info("created", "id", id, "pid", h.Pid(), "format", img.Format.String(), "entry", img.Entry.String())
	go m.reap(p)
	return id, nil
}

// remove must be called with mu held.
func (m *Manager) remove(p *proc) {
	if m.procs[p.desc.ID] == p {
		delete(m.procs, p.desc.ID)
	}
	p.desc.State = models.Terminated
	p.goneOnce.Do(func() { close(p.gone) })
}

// recordExit must be called with mu held.
func (m *Manager) recordExit(id models.ProcessID, code int) {
	if _, ok := m.exits[id]; !ok {
		m.exitOrder = append(m.exitOrder, id)
	}
	m.exits[id] = code
	for len(m.exitOrder) > EXIT_HISTORY {
		delete(m.exits, m.exitOrder[0])
		m.exitOrder = m.exitOrder[1:]
	}
}

func (m *Manager) reap(p *proc) {
	<-p.handle.Done()
	code := p.handle.ExitCode()
	m.mu.Lock()
	if p.desc.State != models.Terminated {
		p.desc.Exit = code
		m.recordExit(p.desc.ID, code)
	}
	m.remove(p)
	m.mu.Unlock()
	close(p.exited)
	m.L.Debug("reaped", "id", p.desc.ID, "exit", code)
}

func notFound(id models.ProcessID) error {
	return errors.Wrapf(models.ErrProcessNotFound, "id %d", id)
}

// lookupStarted returns the entry for id once its start attempt is over.
func (m *Manager) lookupStarted(ctx context.Context, id models.ProcessID) (*proc, error) {
	m.mu.RLock()
	p, ok := m.procs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	select {
	case <-p.started:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
	if p.handle == nil {
		return nil, notFound(id)
	}
	return p, nil
}

// Terminate asks the process to exit, waits up to timeout, then kills it
// and waits at most Config.KillGrace. A timeout <= 0 uses
// Config.TerminateTimeout. The entry is gone from the registry when
// Terminate returns nil.
func (m *Manager) Terminate(ctx context.Context, id models.ProcessID, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.Config.TerminateTimeout
	}
	p, err := m.lookupStarted(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.procs[id] != p {
		m.mu.Unlock()
		return notFound(id)
	}
	if p.desc.State == models.Terminating {
		m.mu.Unlock()
		// someone else is already on it
		select {
		case <-p.gone:
			return nil
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
	p.desc.State = models.Terminating
	m.mu.Unlock()

	l := m.L.With("id", id, "pid", p.desc.Pid)
	l.Debug("terminating", "timeout", timeout)
	if err := p.handle.Signal(); err != nil {
		l.Warn("signal failed", "error", err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	l.Info("process did not exit, killing")
	if err := p.handle.Kill(); err != nil {
		l.Warn("kill failed", "error", err)
	}
	grace := time.NewTimer(m.Config.KillGrace)
	defer grace.Stop()
	select {
	case <-p.exited:
		return nil
	case <-grace.C:
	}

	l.Warn("process survived kill, dropping it from the registry")
	m.mu.Lock()
	p.desc.Exit = -1
	m.recordExit(id, -1)
	m.remove(p)
	m.mu.Unlock()
	return nil
}

// Wait blocks until the process leaves the registry and returns its exit
// code. Processes dropped after a failed kill report -1. A process that
// already exited is still reported while its code is in the exit history.
func (m *Manager) Wait(ctx context.Context, id models.ProcessID) (int, error) {
	p, err := m.lookupStarted(ctx, id)
	if err != nil {
		m.mu.RLock()
		code, ok := m.exits[id]
		m.mu.RUnlock()
		if ok {
			return code, nil
		}
		return 0, err
	}
	select {
	case <-p.gone:
	case <-ctx.Done():
		return 0, errors.WithStack(ctx.Err())
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return p.desc.Exit, nil
}

func (m *Manager) List() []models.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]models.Descriptor, 0, len(m.procs))
	for _, p := range m.procs {
		ret = append(ret, p.desc)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (m *Manager) Get(id models.ProcessID) (models.Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.procs[id]; ok {
		return p.desc, true
	}
	return models.Descriptor{}, false
}

// Space returns the address space the process image was mapped into.
func (m *Manager) Space(id models.ProcessID) (*mem.Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.procs[id]; ok {
		return p.space, nil
	}
	return nil, notFound(id)
}

// Allocate reserves size bytes in the address space of id. addr is a hint.
func (m *Manager) Allocate(id models.ProcessID, addr, size uint64, prot int) (uint64, error) {
	space, err := m.Space(id)
	if err != nil {
		return 0, err
	}
	ret, err := space.Reserve(addr, size, prot, "alloc")
	if err != nil {
		return 0, err
	}
	m.L.Trace("allocated", "id", id, "addr", ret, "size", size, "prot", models.ProtString(prot))
	return ret, nil
}

// Shutdown terminates every registered process in parallel.
func (m *Manager) Shutdown(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		first error
	)
	for _, desc := range m.List() {
		wg.Add(1)
		go func(id models.ProcessID) {
			defer wg.Done()
			err := m.Terminate(ctx, id, 0)
			if err != nil && errors.Cause(err) != models.ErrProcessNotFound {
				errMu.Lock()
				if first == nil {
					first = err
				}
				errMu.Unlock()
			}
		}(desc.ID)
	}
	wg.Wait()
	return first
}

var (
	_ models.ProcessManager = (*Manager)(nil)
	_ models.MemoryManager  = (*Manager)(nil)
)
