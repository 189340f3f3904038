package loader

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

var dexMagic = []byte("dex\n")

const (
	DEX_ENDIAN_CONSTANT         = 0x12345678
	DEX_REVERSE_ENDIAN_CONSTANT = 0x78563412

	dexHeaderSize   = 0x70
	dexClassDefSize = 32
	dexMethodIDSize = 8
	dexNoIndex      = 0xffffffff
)

func MatchDex(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r, 4), dexMagic)
}

type dexHeader struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

type dexClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

type dexMethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

func validDexMagic(magic []byte) bool {
	if !bytes.Equal(magic[:4], dexMagic) || magic[7] != 0 {
		return false
	}
	for _, c := range magic[4:7] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseDEX parses a dex container. Bytecode has no address space, so the
// result has no segments and a symbolic entry point.
func ParseDEX(p []byte) (*models.LoadedImage, error) {
	m := newImage("dex", p)
	magic, err := m.slice("magic", 0, 8)
	if err != nil {
		return nil, err
	}
	if !validDexMagic(magic) {
		return nil, m.fail("magic", 0, models.ErrInvalidMagic)
	}
	var h dexHeader
	if err := m.unpack("header", 0, &h); err != nil {
		return nil, err
	}
	if h.EndianTag == DEX_REVERSE_ENDIAN_CONSTANT {
		return nil, m.failf("endian_tag", 0x28, models.ErrUnsupportedArch, "byte-swapped dex")
	}
	info := &models.DexInfo{
		Version:   string(magic[4:7]),
		FileSize:  h.FileSize,
		Strings:   models.DexTable{Size: h.StringIDsSize, Off: h.StringIDsOff},
		Types:     models.DexTable{Size: h.TypeIDsSize, Off: h.TypeIDsOff},
		Protos:    models.DexTable{Size: h.ProtoIDsSize, Off: h.ProtoIDsOff},
		Fields:    models.DexTable{Size: h.FieldIDsSize, Off: h.FieldIDsOff},
		Methods:   models.DexTable{Size: h.MethodIDsSize, Off: h.MethodIDsOff},
		ClassDefs: models.DexTable{Size: h.ClassDefsSize, Off: h.ClassDefsOff},
		Data:      models.DexTable{Size: h.DataSize, Off: h.DataOff},
	}
	d := &dexFile{image: m, info: info}
	img := &models.LoadedImage{
		Format: models.DEX,
		Type:   models.TypeExec,
		Dex:    info,
	}
	entry, err := d.resolveEntry()
	if err != nil {
		return nil, err
	}
	img.Entry = entry
	if err := img.Validate(); err != nil {
		return nil, m.fail("image", 0, err)
	}
	return img, nil
}

type dexFile struct {
	*image
	info *models.DexInfo
}

func (d *dexFile) uleb128(field string, off uint64) (uint32, uint64, error) {
	var val uint32
	for i := uint64(0); i < 5; i++ {
		b, err := d.u8(field, off+i)
		if err != nil {
			return 0, 0, err
		}
		val |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return val, i + 1, nil
		}
	}
	return 0, 0, d.failf(field, off, models.ErrTruncatedHeader, "uleb128 too long")
}

func (d *dexFile) tableEntry(field string, t models.DexTable, idx uint32, size uint64) (uint64, error) {
	if idx >= t.Size {
		return 0, d.failf(field, uint64(t.Off), models.ErrTruncatedHeader, "index %d out of %d", idx, t.Size)
	}
	off := uint64(t.Off) + uint64(idx)*size
	return off, d.need(field, off, size)
}

// str reads string_ids[idx]. Names are stored as MUTF-8, which matches
// UTF-8 for everything but NUL and supplementary characters.
func (d *dexFile) str(idx uint32) (string, error) {
	off, err := d.tableEntry("string_ids", d.info.Strings, idx, 4)
	if err != nil {
		return "", err
	}
	dataOff, err := d.u32("string_ids", off)
	if err != nil {
		return "", err
	}
	_, n, err := d.uleb128("string_data", uint64(dataOff))
	if err != nil {
		return "", err
	}
	return d.cstring("string_data", uint64(dataOff)+n)
}

func (d *dexFile) typeName(idx uint32) (string, error) {
	off, err := d.tableEntry("type_ids", d.info.Types, idx, 4)
	if err != nil {
		return "", err
	}
	descIdx, err := d.u32("type_ids", off)
	if err != nil {
		return "", err
	}
	return d.str(descIdx)
}

func (d *dexFile) methodName(idx uint32) (string, error) {
	off, err := d.tableEntry("method_ids", d.info.Methods, idx, dexMethodIDSize)
	if err != nil {
		return "", err
	}
	var mid dexMethodID
	if err := d.unpack("method_ids", off, &mid); err != nil {
		return "", err
	}
	return d.str(mid.NameIdx)
}

// methods lists the direct then virtual method names declared in a
// class_data_item.
func (d *dexFile) methods(off uint64) ([]string, error) {
	var counts [4]uint32
	for i := range counts {
		v, n, err := d.uleb128("class_data", off)
		if err != nil {
			return nil, err
		}
		counts[i], off = v, off+n
	}
	// skip static and instance fields: field_idx_diff, access_flags
	for i := uint32(0); i < 2*(counts[0]+counts[1]); i++ {
		_, n, err := d.uleb128("class_data", off)
		if err != nil {
			return nil, err
		}
		off += n
	}
	var names []string
	for _, count := range counts[2:] {
		var idx uint32
		for i := uint32(0); i < count; i++ {
			var item [3]uint32
			for j := range item {
				v, n, err := d.uleb128("class_data", off)
				if err != nil {
					return nil, err
				}
				item[j], off = v, off+n
			}
			// method_idx_diff is relative to the previous entry in this list
			idx += item[0]
			name, err := d.methodName(idx)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// resolveEntry picks the first "main", else the first "onCreate", else the
// first declared method. No classes leaves the entry unresolved.
func (d *dexFile) resolveEntry() (models.EntryPoint, error) {
	var first, onCreate, main *models.EntryPoint
	for i := uint32(0); i < d.info.ClassDefs.Size; i++ {
		off, err := d.tableEntry("class_defs", d.info.ClassDefs, i, dexClassDefSize)
		if err != nil {
			return models.EntryPoint{}, err
		}
		var def dexClassDef
		if err := d.unpack("class_defs", off, &def); err != nil {
			return models.EntryPoint{}, err
		}
		class, err := d.typeName(def.ClassIdx)
		if err != nil {
			return models.EntryPoint{}, errors.Wrapf(err, "class_defs[%d]", i)
		}
		d.info.Classes = append(d.info.Classes, class)
		if def.ClassDataOff == 0 || main != nil {
			continue
		}
		names, err := d.methods(uint64(def.ClassDataOff))
		if err != nil {
			return models.EntryPoint{}, errors.Wrapf(err, "class %s", class)
		}
		for _, name := range names {
			e := models.SymbolEntry(class, name)
			switch {
			case name == "main" && main == nil:
				main = &e
			case name == "onCreate" && onCreate == nil:
				onCreate = &e
			case first == nil:
				first = &e
			}
		}
	}
	for _, e := range []*models.EntryPoint{main, onCreate, first} {
		if e != nil {
			return *e, nil
		}
	}
	return models.SymbolEntry("", ""), nil
}
