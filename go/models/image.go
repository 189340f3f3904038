package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type EntryKind int

const (
	EntryAddress EntryKind = iota
	EntrySymbol
)

// EntryPoint is either a virtual address (PE, ELF) or a class and method
// pair (DEX). A symbol with an empty class is unresolved.
type EntryPoint struct {
	Kind   EntryKind
	Addr   uint64
	Class  string
	Method string
}

func AddressEntry(addr uint64) EntryPoint {
	return EntryPoint{Kind: EntryAddress, Addr: addr}
}

func SymbolEntry(class, method string) EntryPoint {
	return EntryPoint{Kind: EntrySymbol, Class: class, Method: method}
}

func (e EntryPoint) Resolved() bool {
	if e.Kind == EntryAddress {
		return true
	}
	return e.Class != "" && e.Method != ""
}

func (e EntryPoint) String() string {
	if e.Kind == EntryAddress {
		return fmt.Sprintf("%#x", e.Addr)
	}
	if !e.Resolved() {
		return "<unresolved>"
	}
	return e.Class + "->" + e.Method
}

// JavaClass converts a descriptor like "Lcom/example/Main;" to the dotted
// name a VM expects on its command line.
func (e EntryPoint) JavaClass() string {
	c := strings.TrimSuffix(strings.TrimPrefix(e.Class, "L"), ";")
	return strings.Replace(c, "/", ".", -1)
}

type ImageType int

const (
	TypeUnknown ImageType = iota
	TypeExec
	TypeDyn
	TypeDll
)

func (t ImageType) String() string {
	switch t {
	case TypeExec:
		return "exec"
	case TypeDyn:
		return "dyn"
	case TypeDll:
		return "dll"
	}
	return "unknown"
}

type CompileMode int

const (
	CompileNone CompileMode = iota
	CompileDefault
	CompileSpeedProfile
)

func (c CompileMode) String() string {
	switch c {
	case CompileDefault:
		return "default"
	case CompileSpeedProfile:
		return "speed-profile"
	}
	return "none"
}

type DexTable struct {
	Size uint32
	Off  uint32
}

type DexInfo struct {
	Version   string
	FileSize  uint32
	Strings   DexTable
	Types     DexTable
	Protos    DexTable
	Fields    DexTable
	Methods   DexTable
	ClassDefs DexTable
	Data      DexTable
	// class descriptors in class_defs order, e.g. "Lcom/example/Main;"
	Classes []string

	// set when the dex came out of an APK
	Container string
	// classesN.dex members merged into Classes, in order
	Secondary []string
	// ABIs with native libraries under lib/, sorted
	ABIs []string
}

func (d *DexInfo) HasClass(desc string) bool {
	for _, c := range d.Classes {
		if c == desc {
			return true
		}
	}
	return false
}

// LoadedImage is the normalized result of parsing any supported format.
// Once returned by a parser it is shared read-only.
type LoadedImage struct {
	Format    Format
	Machine   string
	Type      ImageType
	Entry     EntryPoint
	ImageBase uint64
	Interp    string
	Segments  []Segment
	Libraries []string
	Dex       *DexInfo
	Digest    string
	Compile   CompileMode
}

func (i *LoadedImage) LoadSegments() []Segment {
	var segs []Segment
	for _, s := range i.Segments {
		if s.Kind == SegLoad {
			segs = append(segs, s)
		}
	}
	return segs
}

// AddLibraries merges names into Libraries, keeping the list sorted and
// free of duplicates.
func (i *LoadedImage) AddLibraries(names ...string) {
	seen := make(map[string]bool, len(i.Libraries)+len(names))
	var libs []string
	for _, name := range append(i.Libraries, names...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		libs = append(libs, name)
	}
	sort.Strings(libs)
	i.Libraries = libs
}

// MAX_IMAGE_SIZE caps the memory footprint of all load segments together.
const MAX_IMAGE_SIZE = 1 << 30

func (i *LoadedImage) Validate() error {
	loads := i.LoadSegments()
	var total uint64
	for j := range loads {
		seg := &loads[j]
		if seg.MemSize < seg.FileSize {
			return errors.Wrapf(ErrBadSegment, "segment %d: memsz %#x < filesz %#x", j, seg.MemSize, seg.FileSize)
		}
		if seg.End() < seg.Addr {
			return errors.Wrapf(ErrBadSegment, "segment %d: %#x+%#x wraps", j, seg.Addr, seg.MemSize)
		}
		if i.Format.Bits() == 32 && seg.End() > 1<<32 {
			return errors.Wrapf(ErrBadSegment, "segment %d: %#x-%#x outside 32-bit address space", j, seg.Addr, seg.End())
		}
		if seg.MemSize > MAX_IMAGE_SIZE || total+seg.MemSize > MAX_IMAGE_SIZE {
			return errors.Wrapf(ErrBadSegment, "segment %d: image larger than %#x bytes", j, MAX_IMAGE_SIZE)
		}
		total += seg.MemSize
	}
	sorted := append([]Segment(nil), loads...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Addr < sorted[b].Addr })
	for j := 1; j < len(sorted); j++ {
		prev, cur := &sorted[j-1], &sorted[j]
		if prev.MemSize > 0 && cur.MemSize > 0 && prev.Overlaps(cur) {
			return errors.Wrapf(ErrSegmentOverlap, "%#x-%#x and %#x-%#x", prev.Addr, prev.End(), cur.Addr, cur.End())
		}
	}
	switch {
	case i.Format == DEX:
		if i.Entry.Kind != EntrySymbol {
			return errors.Wrap(ErrBadEntryPoint, "dex entry must be symbolic")
		}
		if i.Entry.Resolved() && (i.Dex == nil || !i.Dex.HasClass(i.Entry.Class)) {
			return errors.Wrapf(ErrBadEntryPoint, "class %s is not declared", i.Entry.Class)
		}
	case i.Format.IsPE() || i.Format.IsELF():
		if i.Entry.Kind != EntryAddress {
			return errors.Wrap(ErrBadEntryPoint, "native entry must be an address")
		}
		// shared objects commonly carry no entry point
		if (i.Type == TypeDyn || i.Type == TypeDll) && i.Entry.Addr == 0 {
			return nil
		}
		for j := range loads {
			if loads[j].ContainsVirt(i.Entry.Addr) {
				return nil
			}
		}
		return errors.Wrapf(ErrBadEntryPoint, "%#x", i.Entry.Addr)
	}
	return nil
}
