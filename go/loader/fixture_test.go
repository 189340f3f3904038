package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
)

func put(p []byte, off int, order binary.ByteOrder, v interface{}) {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, v, order); err != nil {
		panic(err)
	}
	copy(p[off:], buf.Bytes())
}

const (
	pe32Base     = 0x400000
	pe64Base     = 0x140000000
	peEntry      = 0x1010
	peImportName = "KERNEL32.dll"
)

// buildPE returns a one-section image with a single import descriptor.
func buildPE(machine uint16) []byte {
	le := binary.LittleEndian
	p := make([]byte, 0x400)
	dos := peDosHeader{Lfanew: 64}
	copy(dos.Magic[:], "MZ")
	put(p, 0, le, &dos)
	copy(p[64:], peNtMagic)

	optSize := uint16(peOptionalSize32)
	if machine == IMAGE_FILE_MACHINE_AMD64 {
		optSize = peOptionalSize64
	}
	put(p, 68, le, &peFileHeader{
		Machine:              machine,
		NumberOfSections:     1,
		SizeOfOptionalHeader: optSize,
		Characteristics:      0x102,
	})
	optOff := 88
	dirOff := optOff + 96
	switch machine {
	case IMAGE_FILE_MACHINE_AMD64:
		put(p, optOff, le, &peOptional64{
			Magic:               IMAGE_NT_OPTIONAL_HDR64_MAGIC,
			AddressOfEntryPoint: peEntry,
			ImageBase:           pe64Base,
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			NumberOfRvaAndSizes: 16,
		})
		dirOff = optOff + 112
	default:
		// unsupported machines still get a PE32 optional header
		put(p, optOff, le, &peOptional32{
			Magic:               IMAGE_NT_OPTIONAL_HDR32_MAGIC,
			AddressOfEntryPoint: peEntry,
			ImageBase:           pe32Base,
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			NumberOfRvaAndSizes: 16,
		})
	}
	put(p, dirOff+IMAGE_DIRECTORY_ENTRY_IMPORT*8, le, &peDataDirectory{VirtualAddress: 0x1100, Size: 40})

	sec := peSection{
		VirtualSize:      0x1800,
		VirtualAddress:   0x1000,
		SizeOfRawData:    0x200,
		PointerToRawData: 0x200,
		Characteristics:  IMAGE_SCN_MEM_READ | IMAGE_SCN_MEM_EXECUTE,
	}
	copy(sec.Name[:], ".text")
	put(p, optOff+int(optSize), le, &sec)

	// code at the entry point, import table at rva 0x1100
	copy(p[0x210:], []byte{0x90, 0x90, 0xc3})
	put(p, 0x300, le, &peImportDescriptor{Name: 0x1180, FirstThunk: 0x1140})
	copy(p[0x380:], peImportName+"\x00")
	return p
}

const (
	elfInterp = "/lib/ld-linux.so.2"
	elfNeed   = "libc.so.6"
)

// buildELF returns an executable with two load segments, an interpreter and
// one DT_NEEDED entry. The second segment has a zero-filled tail.
func buildELF(class uint8, order binary.ByteOrder) []byte {
	p := make([]byte, 0x220)
	base := uint64(0x8048000)
	phoff, phentsize := uint64(52), uint16(elfProgSize32)
	if class == ELFCLASS64 {
		base, phoff, phentsize = 0x400000, 64, elfProgSize64
	}
	data := uint8(1)
	if order == binary.BigEndian {
		data = ELFDATA2MSB
	}
	type prog struct {
		typ, flags                       uint32
		off, vaddr, filesz, memsz, align uint64
	}
	dynSize := uint64(24)
	if class == ELFCLASS64 {
		dynSize = 48
	}
	progs := []prog{
		{PT_INTERP, PF_R, 0x140, base + 0x140, uint64(len(elfInterp) + 1), uint64(len(elfInterp) + 1), 1},
		{PT_LOAD, PF_R | PF_X, 0, base, 0x200, 0x200, 0x1000},
		{PT_LOAD, PF_R | PF_W, 0x200, base + 0x1200, 0x20, 0x1000, 0x1000},
		{PT_DYNAMIC, PF_R | PF_W, 0x180, base + 0x180, dynSize, dynSize, 4},
	}
	entry := base + 0x80
	if class == ELFCLASS64 {
		h := elfHeader64{Class: class, Data: data, Version: 1, Type: ET_EXEC, Machine: EM_X86_64, EVersion: 1,
			Entry: entry, Phoff: phoff, Ehsize: 64, Phentsize: phentsize, Phnum: uint16(len(progs))}
		copy(h.Magic[:], elfMagic)
		put(p, 0, order, &h)
		for i, ph := range progs {
			put(p, int(phoff)+i*int(phentsize), order, &elfProg64{ph.typ, ph.flags, ph.off, ph.vaddr, ph.vaddr, ph.filesz, ph.memsz, ph.align})
		}
	} else {
		h := elfHeader32{Class: class, Data: data, Version: 1, Type: ET_EXEC, Machine: EM_386, EVersion: 1,
			Entry: uint32(entry), Phoff: uint32(phoff), Ehsize: 52, Phentsize: phentsize, Phnum: uint16(len(progs))}
		copy(h.Magic[:], elfMagic)
		put(p, 0, order, &h)
		for i, ph := range progs {
			put(p, int(phoff)+i*int(phentsize), order, &elfProg32{ph.typ, uint32(ph.off), uint32(ph.vaddr), uint32(ph.vaddr),
				uint32(ph.filesz), uint32(ph.memsz), ph.flags, uint32(ph.align)})
		}
	}
	copy(p[0x140:], elfInterp+"\x00")
	copy(p[0x160:], "\x00"+elfNeed+"\x00")
	dyn := [][2]uint64{{DT_NEEDED, 1}, {DT_STRTAB, base + 0x160}, {DT_NULL, 0}}
	for i, d := range dyn {
		if class == ELFCLASS64 {
			order.PutUint64(p[0x180+i*16:], d[0])
			order.PutUint64(p[0x188+i*16:], d[1])
		} else {
			order.PutUint32(p[0x180+i*8:], uint32(d[0]))
			order.PutUint32(p[0x184+i*8:], uint32(d[1]))
		}
	}
	// payload at the start of the writable segment
	copy(p[0x200:], bytes.Repeat([]byte{0xaa}, 0x20))
	return p
}

func dexMagicVersion(version string) []byte {
	return append([]byte("dex\n"+version), 0)
}

// buildEmptyDex returns a bare header with every table empty.
func buildEmptyDex() []byte {
	p := make([]byte, dexHeaderSize)
	h := dexHeader{FileSize: dexHeaderSize, HeaderSize: dexHeaderSize, EndianTag: DEX_ENDIAN_CONSTANT}
	copy(h.Magic[:], dexMagicVersion("035"))
	put(p, 0, binary.LittleEndian, &h)
	return p
}

// buildDex returns a dex declaring class LMain; with direct methods
// <init> and main.
func buildDex() []byte {
	le := binary.LittleEndian
	p := make([]byte, 0xd6)
	h := dexHeader{
		FileSize:      0xd6,
		HeaderSize:    dexHeaderSize,
		EndianTag:     DEX_ENDIAN_CONSTANT,
		StringIDsSize: 3, StringIDsOff: 0x70,
		TypeIDsSize: 1, TypeIDsOff: 0x7c,
		MethodIDsSize: 2, MethodIDsOff: 0x80,
		ClassDefsSize: 1, ClassDefsOff: 0x90,
		DataSize: 0x46, DataOff: 0x90,
	}
	copy(h.Magic[:], dexMagicVersion("035"))
	put(p, 0, le, &h)
	// string_ids: "<init>", "LMain;", "main"
	le.PutUint32(p[0x70:], 0xc0)
	le.PutUint32(p[0x74:], 0xc8)
	le.PutUint32(p[0x78:], 0xd0)
	// type_ids
	le.PutUint32(p[0x7c:], 1)
	put(p, 0x80, le, &dexMethodID{ClassIdx: 0, NameIdx: 0})
	put(p, 0x88, le, &dexMethodID{ClassIdx: 0, NameIdx: 2})
	put(p, 0x90, le, &dexClassDef{
		ClassIdx:      0,
		AccessFlags:   1,
		SuperclassIdx: dexNoIndex,
		SourceFileIdx: dexNoIndex,
		ClassDataOff:  0xb0,
	})
	// class_data: no fields, two direct methods, no virtual methods
	copy(p[0xb0:], []byte{0, 0, 2, 0, 0, 1, 0, 1, 9, 0})
	copy(p[0xc0:], "\x06<init>\x00")
	copy(p[0xc8:], "\x06LMain;\x00")
	copy(p[0xd0:], "\x04main\x00")
	return p
}
