package models

import "fmt"

const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

func ProtString(prot int) string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	s := ""
	for i := range prots {
		if prot&prots[i] != 0 {
			s += chars[i]
		} else {
			s += "-"
		}
	}
	return s
}

type SegKind int

const (
	SegLoad SegKind = iota
	SegInterp
	SegOther
)

func (k SegKind) String() string {
	switch k {
	case SegLoad:
		return "load"
	case SegInterp:
		return "interp"
	default:
		return "other"
	}
}

// Segment is one region of an image. MemSize is never smaller than
// FileSize; the difference is zero filled when mapped.
type Segment struct {
	Name     string
	Kind     SegKind
	Type     uint32
	Addr     uint64
	Off      uint64
	FileSize uint64
	MemSize  uint64
	Prot     int
}

func (s *Segment) End() uint64 {
	return s.Addr + s.MemSize
}

func (s *Segment) ContainsVirt(addr uint64) bool {
	return s.Addr <= addr && addr < s.End()
}

func (s *Segment) ContainsPhys(off uint64) bool {
	return s.Off <= off && off < s.Off+s.FileSize
}

func (s *Segment) Overlaps(o *Segment) bool {
	return (s.Addr >= o.Addr && s.Addr < o.End()) || (o.Addr >= s.Addr && o.Addr < s.End())
}

func (s *Segment) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s %s", s.Addr, s.End(), ProtString(s.Prot), s.Kind)
	if s.Name != "" {
		desc += fmt.Sprintf(" [%s]", s.Name)
	}
	return desc
}
