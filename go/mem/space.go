package mem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

const (
	ALIGN = 0x1000
	// first address tried when reserving without a hint
	BASE = 0x1000000
)

const (
	MEM_READ_UNMAPPED = iota + 1
	MEM_WRITE_UNMAPPED
	MEM_READ_PROT
	MEM_WRITE_PROT
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

var ErrNoSpace = errors.New("failed to reserve memory")

// Space is a simulated address space. It only tracks mappings and their
// contents; nothing in it is ever executed.
type Space struct {
	mu   sync.RWMutex
	mask uint64
	mem  Pages
}

func NewSpace(bits int) *Space {
	s := &Space{}
	s.SetBits(bits)
	return s
}

func (s *Space) SetBits(bits int) {
	if bits <= 0 || bits > 64 {
		bits = 64
	}
	s.mu.Lock()
	s.mask = ^uint64(0) >> uint(64-bits)
	s.mu.Unlock()
}

func align(addr, size uint64) (uint64, uint64) {
	start := addr &^ (ALIGN - 1)
	end := (addr + size + ALIGN - 1) &^ (ALIGN - 1)
	return start, end - start
}

func (s *Space) checkRange(addr, size uint64) error {
	if size == 0 {
		return errors.Errorf("zero-length mapping at %#x", addr)
	}
	end := addr + size
	if end < addr || end-1 > s.mask {
		return errors.Errorf("mapping %#x-%#x outside address space", addr, end)
	}
	return nil
}

// Map maps addr:size (page aligned outward) with prot. Data already mapped
// in the range is kept, and the new mapping inherits the protection of any
// page it replaces.
func (s *Space) Map(addr, size uint64, prot int, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(addr, size); err != nil {
		return err
	}
	addr, size = align(addr, size)
	page := &Page{Addr: addr, Size: size, Prot: prot, Desc: desc}
	chunks := make(map[uint64][]byte)
	for _, pg := range s.mem.FindRange(addr, size) {
		pg.take(addr, size, chunks)
		page.Prot |= pg.Prot
	}
	if len(chunks) > 0 {
		page.chunks = chunks
	}
	s.unmap(addr, size)
	s.mem = append(s.mem, page)
	sort.Sort(s.mem)
	return nil
}

// Prot is unmap, except the split out middle of each page is kept and
// re-protected.
func (s *Space) Prot(addr, size uint64, prot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, size = align(addr, size)
	tmp := make(Pages, 0, len(s.mem))
	for _, mm := range s.mem {
		if mm.Overlaps(addr, size) {
			left, right := mm.Split(addr, size)
			if left != nil {
				tmp = append(tmp, left)
			}
			mm.Prot = prot
			tmp = append(tmp, mm)
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	s.mem = tmp
}

func (s *Space) Unmap(addr, size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, size = align(addr, size)
	s.unmap(addr, size)
}

func (s *Space) unmap(addr, size uint64) {
	tmp := make(Pages, 0, len(s.mem))
	for _, mm := range s.mem {
		if mm.Overlaps(addr, size) {
			left, right := mm.Split(addr, size)
			if left != nil {
				tmp = append(tmp, left)
			}
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	s.mem = tmp
}

// RangeValid checks whether addr:size is fully mapped. If prot > 0, it also
// checks every page in the range carries the whole mask.
func (s *Space) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeValid(addr, size, prot)
}

func (s *Space) rangeValid(addr, size uint64, prot int) (bool, bool) {
	first := s.mem.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood := true
	end := addr + size
	for _, mm := range s.mem[first:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && mm.Prot&prot != prot {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

func (s *Space) Read(addr uint64, p []byte) error {
	return s.ReadProt(addr, p, 0)
}

func (s *Space) ReadProt(addr uint64, p []byte, prot int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if gmap, gprot := s.rangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_PROT}
	}
	for i := s.mem.bsearch(addr); len(p) > 0 && i < len(s.mem); i++ {
		mm := s.mem[i]
		n := mm.Addr + mm.Size - addr
		if n > uint64(len(p)) {
			n = uint64(len(p))
		}
		mm.read(addr, p[:n])
		addr, p = addr+n, p[n:]
	}
	return nil
}

// Write ignores page protection, as the loader needs to fill read-only
// segments.
func (s *Space) Write(addr uint64, p []byte) error {
	return s.WriteProt(addr, p, 0)
}

func (s *Space) WriteProt(addr uint64, p []byte, prot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gmap, gprot := s.rangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	for i := s.mem.bsearch(addr); len(p) > 0 && i < len(s.mem); i++ {
		mm := s.mem[i]
		n := mm.Addr + mm.Size - addr
		if n > uint64(len(p)) {
			n = uint64(len(p))
		}
		mm.write(addr, p[:n])
		addr, p = addr+n, p[n:]
	}
	return nil
}

// Reserve finds room for size bytes and maps it. A nonzero addr is used as
// a hint: it is taken if free, otherwise the search starts there.
func (s *Space) Reserve(addr, size uint64, prot int, desc string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr == 0 {
		addr = BASE
	}
	addr, size = align(addr, size)
	if err := s.checkRange(addr, size); err != nil {
		return 0, err
	}
	last := s.mask - size + 1
	for i := addr; i <= last && i >= addr; i += ALIGN {
		if len(s.mem.FindRange(i, size)) == 0 {
			s.mem = append(s.mem, &Page{Addr: i, Size: size, Prot: prot, Desc: desc})
			sort.Sort(s.mem)
			return i, nil
		}
	}
	return 0, errors.WithStack(ErrNoSpace)
}

// Resident returns how many bytes of the space are backed by memory.
func (s *Space) Resident() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n uint64
	for _, pg := range s.mem {
		n += pg.Resident()
	}
	return n
}

func (s *Space) Mappings() Pages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make(Pages, len(s.mem))
	for i, pg := range s.mem {
		cp := *pg
		cp.chunks = nil
		ret[i] = &cp
	}
	return ret
}

var _ models.Mapper = (*Space)(nil)
