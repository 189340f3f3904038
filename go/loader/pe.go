package loader

import (
	"bytes"
	"io"

	"github.com/winlinos/dwce/go/models"
)

var peDosMagic = []byte("MZ")
var peNtMagic = []byte("PE\x00\x00")

const (
	IMAGE_FILE_MACHINE_I386  = 0x14c
	IMAGE_FILE_MACHINE_AMD64 = 0x8664

	IMAGE_FILE_DLL = 0x2000

	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10b
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20b

	IMAGE_SCN_MEM_EXECUTE = 0x20000000
	IMAGE_SCN_MEM_READ    = 0x40000000
	IMAGE_SCN_MEM_WRITE   = 0x80000000

	IMAGE_DIRECTORY_ENTRY_IMPORT = 1

	peOptionalSize32 = 224
	peOptionalSize64 = 240
	peSectionSize    = 40
	peImportSize     = 20
	// bound on import descriptors walked before giving up
	peMaxImports = 4096
)

func MatchPE(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r, 2), peDosMagic)
}

type peDosHeader struct {
	Magic  [2]byte
	Pad    [58]byte
	Lfanew uint32
}

type peFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// fixed part of the PE32 optional header, data directories follow
type peOptional32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

// fixed part of the PE32+ optional header
type peOptional64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

type peDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

type peSection struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

type peImportDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

func (s *peSection) prot() int {
	prot := 0
	if s.Characteristics&IMAGE_SCN_MEM_READ != 0 {
		prot |= models.PROT_READ
	}
	if s.Characteristics&IMAGE_SCN_MEM_WRITE != 0 {
		prot |= models.PROT_WRITE
	}
	if s.Characteristics&IMAGE_SCN_MEM_EXECUTE != 0 {
		prot |= models.PROT_EXEC
	}
	return prot
}

// ParsePE parses a PE32 or PE32+ image.
func ParsePE(p []byte) (*models.LoadedImage, error) {
	m := newImage("pe", p)
	if err := m.need("e_magic", 0, 2); err != nil {
		return nil, err
	}
	if !bytes.Equal(p[:2], peDosMagic) {
		return nil, m.fail("e_magic", 0, models.ErrInvalidMagic)
	}
	var dos peDosHeader
	if err := m.unpack("e_lfanew", 0, &dos); err != nil {
		return nil, err
	}
	ntOff := uint64(dos.Lfanew)
	sig, err := m.slice("nt signature", ntOff, 4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, peNtMagic) {
		return nil, m.fail("nt signature", ntOff, models.ErrInvalidMagic)
	}
	var fh peFileHeader
	fhOff := ntOff + 4
	if err := m.unpack("file header", fhOff, &fh); err != nil {
		return nil, err
	}
	optOff := fhOff + 20

	img := &models.LoadedImage{Type: models.TypeExec}
	if fh.Characteristics&IMAGE_FILE_DLL != 0 {
		img.Type = models.TypeDll
	}
	var entry uint32
	var optSize, dirOff uint64
	switch fh.Machine {
	case IMAGE_FILE_MACHINE_I386:
		var opt peOptional32
		if err := m.unpack("optional header", optOff, &opt); err != nil {
			return nil, err
		}
		if opt.Magic != IMAGE_NT_OPTIONAL_HDR32_MAGIC {
			return nil, m.failf("optional header magic", optOff, models.ErrInvalidMagic, "%#x", opt.Magic)
		}
		img.Format, img.Machine = models.PE32, "x86"
		img.ImageBase = uint64(opt.ImageBase)
		entry = opt.AddressOfEntryPoint
		optSize, dirOff = peOptionalSize32, optOff+96
	case IMAGE_FILE_MACHINE_AMD64:
		var opt peOptional64
		if err := m.unpack("optional header", optOff, &opt); err != nil {
			return nil, err
		}
		if opt.Magic != IMAGE_NT_OPTIONAL_HDR64_MAGIC {
			return nil, m.failf("optional header magic", optOff, models.ErrInvalidMagic, "%#x", opt.Magic)
		}
		img.Format, img.Machine = models.PE64, "x86_64"
		img.ImageBase = opt.ImageBase
		entry = opt.AddressOfEntryPoint
		optSize, dirOff = peOptionalSize64, optOff+112
	default:
		return nil, m.failf("machine", fhOff, models.ErrUnsupportedArch, "%#x", fh.Machine)
	}
	// a zero rva means no entry point, which only DLLs may omit
	img.Entry = models.AddressEntry(0)
	if entry != 0 {
		img.Entry = models.AddressEntry(img.ImageBase + uint64(entry))
	}

	sections := make([]peSection, fh.NumberOfSections)
	secOff := optOff + optSize
	for i := range sections {
		s := &sections[i]
		off := secOff + uint64(i)*peSectionSize
		if err := m.unpack("section header", off, s); err != nil {
			return nil, err
		}
		fileSize := uint64(s.SizeOfRawData)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < fileSize {
			fileSize = uint64(s.VirtualSize)
		}
		memSize := uint64(s.VirtualSize)
		if memSize < fileSize {
			memSize = fileSize
		}
		if fileSize > 0 {
			if err := m.need("section data", uint64(s.PointerToRawData), fileSize); err != nil {
				return nil, m.failf("section data", uint64(s.PointerToRawData), models.ErrBadSegment, "section %d", i)
			}
		}
		img.Segments = append(img.Segments, models.Segment{
			Name:     trimNul(s.Name[:]),
			Kind:     models.SegLoad,
			Addr:     img.ImageBase + uint64(s.VirtualAddress),
			Off:      uint64(s.PointerToRawData),
			FileSize: fileSize,
			MemSize:  memSize,
			Prot:     s.prot(),
		})
	}
	img.AddLibraries(peImports(m, dirOff, sections)...)
	if err := img.Validate(); err != nil {
		return nil, m.fail("image", 0, err)
	}
	return img, nil
}

func peRvaToOff(sections []peSection, rva uint32) (uint64, bool) {
	for _, s := range sections {
		size := s.VirtualSize
		if s.SizeOfRawData > size {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && rva-s.VirtualAddress < size {
			delta := rva - s.VirtualAddress
			if delta >= s.SizeOfRawData {
				return 0, false
			}
			return uint64(s.PointerToRawData) + uint64(delta), true
		}
	}
	return 0, false
}

// peImports walks the import directory. It is lenient: anything it cannot
// resolve ends the walk rather than failing the parse.
func peImports(m *image, dirOff uint64, sections []peSection) []string {
	var dir peDataDirectory
	if err := m.unpack("import directory", dirOff+IMAGE_DIRECTORY_ENTRY_IMPORT*8, &dir); err != nil {
		return nil
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	off, ok := peRvaToOff(sections, dir.VirtualAddress)
	if !ok {
		return nil
	}
	var libs []string
	for i := uint64(0); i < peMaxImports; i++ {
		var desc peImportDescriptor
		if err := m.unpack("import descriptor", off+i*peImportSize, &desc); err != nil {
			break
		}
		if desc.Name == 0 && desc.FirstThunk == 0 && desc.OriginalFirstThunk == 0 {
			break
		}
		nameOff, ok := peRvaToOff(sections, desc.Name)
		if !ok {
			continue
		}
		if name, err := m.cstring("import name", nameOff); err == nil && name != "" {
			libs = append(libs, name)
		}
	}
	return libs
}
