package mock

import (
	"bytes"
	"sync"
	"time"

	"github.com/winlinos/dwce/go/models"
)

// IO is a HostIO over in-memory buffers with a frozen clock.
type IO struct {
	mu     sync.Mutex
	input  map[int]*bytes.Buffer
	output map[int]*bytes.Buffer
	Time   time.Time
}

func NewIO(now time.Time) *IO {
	return &IO{
		input:  make(map[int]*bytes.Buffer),
		output: make(map[int]*bytes.Buffer),
		Time:   now,
	}
}

// Feed queues p to be read from fd.
func (m *IO) Feed(fd int, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.input[fd] == nil {
		m.input[fd] = &bytes.Buffer{}
	}
	m.input[fd].Write(p)
}

func (m *IO) Output(fd int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf := m.output[fd]; buf != nil {
		return buf.String()
	}
	return ""
}

func (m *IO) Read(fd int, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf := m.input[fd]; buf != nil {
		n, _ := buf.Read(p)
		return n, nil
	}
	return 0, nil
}

func (m *IO) Write(fd int, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.output[fd] == nil {
		m.output[fd] = &bytes.Buffer{}
	}
	return m.output[fd].Write(p)
}

func (m *IO) Now() time.Time { return m.Time }

type Alloc struct {
	ID         models.ProcessID
	Addr, Size uint64
	Prot       int
}

// Mem records allocations and places unhinted ones at Base upward.
type Mem struct {
	mu     sync.Mutex
	Base   uint64
	Allocs []Alloc
}

func (m *Mem) Allocate(id models.ProcessID, addr, size uint64, prot int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == 0 {
		if m.Base == 0 {
			m.Base = 0x1000000
		}
		addr = m.Base
		m.Base += (size + 0xfff) &^ 0xfff
	}
	m.Allocs = append(m.Allocs, Alloc{id, addr, size, prot})
	return addr, nil
}
