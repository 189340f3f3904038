package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Format int

const (
	FormatUnknown Format = iota
	PE32
	PE64
	ELF32
	ELF64
	DEX
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	PE32:          "PE32",
	PE64:          "PE64",
	ELF32:         "ELF32",
	ELF64:         "ELF64",
	DEX:           "DEX",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

func (f Format) IsPE() bool  { return f == PE32 || f == PE64 }
func (f Format) IsELF() bool { return f == ELF32 || f == ELF64 }

// Family returns the lowercase container name used for config keys and hints.
func (f Format) Family() string {
	switch {
	case f.IsPE():
		return "pe"
	case f.IsELF():
		return "elf"
	case f == DEX:
		return "dex"
	}
	return ""
}

func (f Format) Bits() int {
	switch f {
	case PE32, ELF32:
		return 32
	case PE64, ELF64:
		return 64
	}
	return 0
}

func (f Format) ABI() ABI {
	switch {
	case f.IsPE():
		return Windows
	case f.IsELF():
		return Linux
	case f == DEX:
		return Android
	}
	return ABIUnknown
}

// ParseFormat accepts either a family ("pe", "elf", "dex") or an exact
// format name. The empty string and "any" mean no hint.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "any", "auto":
		return FormatUnknown, nil
	case "pe", "pe32":
		return PE32, nil
	case "pe64", "pe32+":
		return PE64, nil
	case "elf", "elf32":
		return ELF32, nil
	case "elf64":
		return ELF64, nil
	case "dex", "apk":
		return DEX, nil
	}
	return FormatUnknown, errors.Errorf("unknown format hint %q", s)
}

type ABI int

const (
	ABIUnknown ABI = iota
	Windows
	Linux
	Android
)

func (a ABI) String() string {
	switch a {
	case Windows:
		return "windows"
	case Linux:
		return "linux"
	case Android:
		return "android"
	}
	return "unknown"
}

func ParseABI(s string) (ABI, error) {
	switch strings.ToLower(s) {
	case "windows", "win", "nt":
		return Windows, nil
	case "linux":
		return Linux, nil
	case "android":
		return Android, nil
	}
	return ABIUnknown, errors.Errorf("unknown abi %q", s)
}
