package mock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

// Handle is a fake native process. Stubborn handles ignore Signal and
// Unkillable ones ignore Kill as well.
type Handle struct {
	PID        int
	Stubborn   bool
	Unkillable bool

	Signals int32
	Kills   int32

	once sync.Once
	done chan struct{}
	code int32
}

func NewHandle(pid int) *Handle {
	return &Handle{PID: pid, done: make(chan struct{})}
}

func (h *Handle) Pid() int { return h.PID }

func (h *Handle) Signal() error {
	atomic.AddInt32(&h.Signals, 1)
	if !h.Stubborn {
		h.Exit(143)
	}
	return nil
}

func (h *Handle) Kill() error {
	atomic.AddInt32(&h.Kills, 1)
	if !h.Unkillable {
		h.Exit(137)
	}
	return nil
}

// Exit makes the process exit on its own. Only the first call counts.
func (h *Handle) Exit(code int) {
	h.once.Do(func() {
		atomic.StoreInt32(&h.code, int32(code))
		close(h.done)
	})
}

func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) ExitCode() int         { return int(atomic.LoadInt32(&h.code)) }

// Starter hands out Handles configured from its fields.
type Starter struct {
	Stubborn   bool
	Unkillable bool
	// returned from Start when set
	Err error

	mu      sync.Mutex
	pid     int
	Handles []*Handle
}

func (s *Starter) Start(ctx context.Context, path string, img *models.LoadedImage) (models.Handle, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid++
	h := NewHandle(1000 + s.pid)
	h.Stubborn, h.Unkillable = s.Stubborn, s.Unkillable
	s.Handles = append(s.Handles, h)
	return h, nil
}

func (s *Starter) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Handles) == 0 {
		return nil
	}
	return s.Handles[len(s.Handles)-1]
}

// Procs is an in-memory ProcessManager that records what it was asked.
type Procs struct {
	mu      sync.Mutex
	next    models.ProcessID
	live    map[models.ProcessID]models.Descriptor
	Created []string
	Hints   []models.Format
	Killed  []models.ProcessID
}

func (p *Procs) Create(ctx context.Context, path string, hint models.Format) (models.ProcessID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == nil {
		p.live = make(map[models.ProcessID]models.Descriptor)
	}
	p.next++
	p.live[p.next] = models.Descriptor{ID: p.next, Path: path, Format: hint, State: models.Running, StartTime: time.Now()}
	p.Created = append(p.Created, path)
	p.Hints = append(p.Hints, hint)
	return p.next, nil
}

func (p *Procs) Terminate(ctx context.Context, id models.ProcessID, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[id]; !ok {
		return errors.Wrapf(models.ErrProcessNotFound, "id %d", id)
	}
	delete(p.live, id)
	p.Killed = append(p.Killed, id)
	return nil
}

func (p *Procs) List() []models.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ret []models.Descriptor
	for _, d := range p.live {
		ret = append(ret, d)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}
