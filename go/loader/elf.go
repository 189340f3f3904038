package loader

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/winlinos/dwce/go/models"
)

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

const (
	ELFCLASS32  = 1
	ELFCLASS64  = 2
	ELFDATA2MSB = 2

	ET_EXEC = 2
	ET_DYN  = 3

	EM_386    = 3
	EM_X86_64 = 62

	PT_NULL    = 0
	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3

	PF_X = 1
	PF_W = 2
	PF_R = 4

	DT_NULL   = 0
	DT_NEEDED = 1
	DT_STRTAB = 5

	elfProgSize32 = 32
	elfProgSize64 = 56
	// bound on dynamic entries walked
	elfMaxDynamic = 4096
)

var machineMap = map[uint16]string{
	EM_386:    "x86",
	EM_X86_64: "x86_64",
}

var progNames = map[uint32]string{
	PT_LOAD:    "LOAD",
	PT_DYNAMIC: "DYNAMIC",
	PT_INTERP:  "INTERP",
	4:          "NOTE",
	6:          "PHDR",
	7:          "TLS",
}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r, 4), elfMagic)
}

type elfHeader32 struct {
	Magic      [4]byte
	Class      uint8
	Data       uint8
	Version    uint8
	OSABI      uint8
	ABIVersion uint8
	Pad        [7]byte
	Type       uint16
	Machine    uint16
	EVersion   uint32
	Entry      uint32
	Phoff      uint32
	Shoff      uint32
	Flags      uint32
	Ehsize     uint16
	Phentsize  uint16
	Phnum      uint16
	Shentsize  uint16
	Shnum      uint16
	Shstrndx   uint16
}

type elfHeader64 struct {
	Magic      [4]byte
	Class      uint8
	Data       uint8
	Version    uint8
	OSABI      uint8
	ABIVersion uint8
	Pad        [7]byte
	Type       uint16
	Machine    uint16
	EVersion   uint32
	Entry      uint64
	Phoff      uint64
	Shoff      uint64
	Flags      uint32
	Ehsize     uint16
	Phentsize  uint16
	Phnum      uint16
	Shentsize  uint16
	Shnum      uint16
	Shstrndx   uint16
}

type elfProg32 struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

type elfProg64 struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// elfHeader is the width-independent view of either header layout.
type elfHeader struct {
	typ, machine     uint16
	entry, phoff     uint64
	phentsize, phnum uint16
}

type elfProg struct {
	typ, flags                       uint32
	off, vaddr, filesz, memsz, align uint64
}

func (p *elfProg) prot() int {
	prot := 0
	if p.flags&PF_R != 0 {
		prot |= models.PROT_READ
	}
	if p.flags&PF_W != 0 {
		prot |= models.PROT_WRITE
	}
	if p.flags&PF_X != 0 {
		prot |= models.PROT_EXEC
	}
	return prot
}

// ParseELF parses a 32- or 64-bit x86 ELF image in either byte order.
func ParseELF(p []byte) (*models.LoadedImage, error) {
	m := newImage("elf", p)
	magic, err := m.slice("e_ident magic", 0, 4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, elfMagic) {
		return nil, m.fail("e_ident magic", 0, models.ErrInvalidMagic)
	}
	class, err := m.u8("EI_CLASS", 4)
	if err != nil {
		return nil, err
	}
	data, err := m.u8("EI_DATA", 5)
	if err != nil {
		return nil, err
	}
	if data == ELFDATA2MSB {
		m.order = binary.BigEndian
	}

	img := &models.LoadedImage{}
	var hdr elfHeader
	var progSize uint64
	switch class {
	case ELFCLASS32:
		var h elfHeader32
		if err := m.unpack("elf header", 0, &h); err != nil {
			return nil, err
		}
		img.Format = models.ELF32
		hdr = elfHeader{h.Type, h.Machine, uint64(h.Entry), uint64(h.Phoff), h.Phentsize, h.Phnum}
		progSize = elfProgSize32
	case ELFCLASS64:
		var h elfHeader64
		if err := m.unpack("elf header", 0, &h); err != nil {
			return nil, err
		}
		img.Format = models.ELF64
		hdr = elfHeader{h.Type, h.Machine, h.Entry, h.Phoff, h.Phentsize, h.Phnum}
		progSize = elfProgSize64
	default:
		return nil, m.failf("EI_CLASS", 4, models.ErrUnsupportedArch, "class %d", class)
	}
	machine, ok := machineMap[hdr.machine]
	if !ok {
		return nil, m.failf("e_machine", 0x12, models.ErrUnsupportedArch, "machine %d", hdr.machine)
	}
	img.Machine = machine
	switch hdr.typ {
	case ET_EXEC:
		img.Type = models.TypeExec
	case ET_DYN:
		img.Type = models.TypeDyn
	}
	img.Entry = models.AddressEntry(hdr.entry)
	if hdr.phnum > 0 && uint64(hdr.phentsize) < progSize {
		return nil, m.failf("e_phentsize", 0, models.ErrBadSegment, "%d < %d", hdr.phentsize, progSize)
	}

	var dynamic []elfProg
	for i := uint64(0); i < uint64(hdr.phnum); i++ {
		off := hdr.phoff + i*uint64(hdr.phentsize)
		prog, err := readProg(m, img.Format, off)
		if err != nil {
			return nil, err
		}
		if prog.typ == PT_NULL {
			continue
		}
		if prog.memsz < prog.filesz {
			return nil, m.failf("program header", off, models.ErrBadSegment, "memsz %#x < filesz %#x", prog.memsz, prog.filesz)
		}
		if prog.filesz > 0 {
			if err := m.need("segment data", prog.off, prog.filesz); err != nil {
				return nil, m.failf("segment data", prog.off, models.ErrBadSegment, "program header %d", i)
			}
		}
		seg := models.Segment{
			Name:     progNames[prog.typ],
			Kind:     models.SegOther,
			Type:     prog.typ,
			Addr:     prog.vaddr,
			Off:      prog.off,
			FileSize: prog.filesz,
			MemSize:  prog.memsz,
			Prot:     prog.prot(),
		}
		switch prog.typ {
		case PT_LOAD:
			seg.Kind = models.SegLoad
		case PT_INTERP:
			seg.Kind = models.SegInterp
			if prog.filesz == 0 {
				return nil, m.failf("interp", prog.off, models.ErrBadSegment, "empty interpreter path")
			}
			b, err := m.slice("interp", prog.off, prog.filesz)
			if err != nil {
				return nil, err
			}
			img.Interp = trimNul(b)
			img.AddLibraries(img.Interp)
		case PT_DYNAMIC:
			dynamic = append(dynamic, prog)
		}
		img.Segments = append(img.Segments, seg)
	}
	for _, dyn := range dynamic {
		img.AddLibraries(elfNeeded(m, img, dyn)...)
	}
	if err := img.Validate(); err != nil {
		return nil, m.fail("image", 0, err)
	}
	return img, nil
}

func readProg(m *image, format models.Format, off uint64) (elfProg, error) {
	if format == models.ELF32 {
		var ph elfProg32
		if err := m.unpack("program header", off, &ph); err != nil {
			return elfProg{}, err
		}
		return elfProg{ph.Type, ph.Flags, uint64(ph.Off), uint64(ph.Vaddr), uint64(ph.Filesz), uint64(ph.Memsz), uint64(ph.Align)}, nil
	}
	var ph elfProg64
	if err := m.unpack("program header", off, &ph); err != nil {
		return elfProg{}, err
	}
	return elfProg{ph.Type, ph.Flags, ph.Off, ph.Vaddr, ph.Filesz, ph.Memsz, ph.Align}, nil
}

// vaddrToOff translates a virtual address through the file-backed part of
// the load segments.
func vaddrToOff(img *models.LoadedImage, addr uint64) (uint64, bool) {
	for _, s := range img.LoadSegments() {
		if addr >= s.Addr && addr < s.Addr+s.FileSize {
			return s.Off + (addr - s.Addr), true
		}
	}
	return 0, false
}

// elfNeeded collects DT_NEEDED names. A damaged dynamic section only loses
// library names; it never fails the parse.
func elfNeeded(m *image, img *models.LoadedImage, dyn elfProg) []string {
	entSize := uint64(8)
	if img.Format == models.ELF64 {
		entSize = 16
	}
	var needed []uint64
	var strtab uint64
	haveStrtab := false
	for i := uint64(0); i < elfMaxDynamic && (i+1)*entSize <= dyn.filesz; i++ {
		off := dyn.off + i*entSize
		var tag, val uint64
		if img.Format == models.ELF64 {
			b, err := m.slice("dynamic entry", off, 16)
			if err != nil {
				break
			}
			tag, val = m.order.Uint64(b), m.order.Uint64(b[8:])
		} else {
			b, err := m.slice("dynamic entry", off, 8)
			if err != nil {
				break
			}
			tag, val = uint64(m.order.Uint32(b)), uint64(m.order.Uint32(b[4:]))
		}
		if tag == DT_NULL {
			break
		}
		switch tag {
		case DT_NEEDED:
			needed = append(needed, val)
		case DT_STRTAB:
			strtab, haveStrtab = val, true
		}
	}
	if !haveStrtab || len(needed) == 0 {
		return nil
	}
	base, ok := vaddrToOff(img, strtab)
	if !ok {
		return nil
	}
	var libs []string
	for _, n := range needed {
		if name, err := m.cstring("dynamic string", base+n); err == nil && name != "" {
			libs = append(libs, name)
		}
	}
	return libs
}
