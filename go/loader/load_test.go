package loader

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/winlinos/dwce/go/mem"
	"github.com/winlinos/dwce/go/models"
)

func TestParseSniff(t *testing.T) {
	tests := []struct {
		p      []byte
		format models.Format
	}{
		{buildPE(IMAGE_FILE_MACHINE_I386), models.PE32},
		{buildPE(IMAGE_FILE_MACHINE_AMD64), models.PE64},
		{buildELF(ELFCLASS32, binary.LittleEndian), models.ELF32},
		{buildELF(ELFCLASS64, binary.BigEndian), models.ELF64},
		{buildDex(), models.DEX},
	}
	for _, test := range tests {
		img, err := Parse(test.p)
		if err != nil {
			t.Fatal(err)
		}
		if img.Format != test.format {
			t.Fatalf("expected %s, got %s", test.format, img.Format)
		}
	}
}

func TestParseUnrecognized(t *testing.T) {
	for _, p := range [][]byte{nil, []byte("M"), []byte("#!/bin/sh\n"), bytes.Repeat([]byte{0}, 0x100)} {
		_, err := Parse(p)
		expectCause(t, err, models.ErrUnrecognizedFormat)
	}
}

func TestParseHint(t *testing.T) {
	// a hint skips sniffing, so the wrong family fails on magic
	_, err := ParseHint(buildDex(), models.PE32)
	expectCause(t, err, models.ErrInvalidMagic)
	if _, err := ParseHint(buildDex(), models.DEX); err != nil {
		t.Fatal(err)
	}
}

type recordBridge struct {
	libs []string
}

func (b *recordBridge) Require(img *models.LoadedImage, libs []string) error {
	b.libs = append(b.libs, libs...)
	return nil
}

func TestLoadMapsSegments(t *testing.T) {
	p := buildELF(ELFCLASS32, binary.LittleEndian)
	space := mem.NewSpace(32)
	// dirty the bss page so zero filling is observable
	if err := space.Map(0x8049000, 0x1000, models.PROT_READ, "dirty"); err != nil {
		t.Fatal(err)
	}
	if err := space.Write(0x8049000, bytes.Repeat([]byte{0xff}, 0x1000)); err != nil {
		t.Fatal(err)
	}
	bridge := &recordBridge{}
	l := NewLoader(NewImageCache(4))
	l.Bridge = bridge
	img, err := l.Load(p, models.FormatUnknown, space)
	if err != nil {
		t.Fatal(err)
	}
	text := make([]byte, 0x200)
	if err := space.Read(0x8048000, text); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(text, p[:0x200]) {
		t.Fatal("text segment contents differ from file")
	}
	data := make([]byte, 0x1000)
	if err := space.Read(0x8049200, data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:0x20], p[0x200:0x220]) {
		t.Fatal("data segment contents differ from file")
	}
	if !bytes.Equal(data[0x20:], make([]byte, 0x1000-0x20)) {
		t.Fatal("segment tail was not zero filled")
	}
	if len(bridge.libs) != 2 || len(img.Libraries) != 2 {
		t.Fatalf("libraries not surfaced: %v", bridge.libs)
	}
}

func TestLoadCache(t *testing.T) {
	cache := NewImageCache(4)
	l := NewLoader(cache)
	p := buildPE(IMAGE_FILE_MACHINE_I386)
	a, err := l.Parse(p, models.FormatUnknown)
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Parse(p, models.FormatUnknown)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("second parse missed the cache")
	}
	if a.Digest != Digest(p) {
		t.Fatalf("bad digest: %s", a.Digest)
	}
	// the hint is part of the key
	if _, err := l.Parse(p, models.PE32); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cache entries, got %d", cache.Len())
	}
	// Load hands out copies
	img, err := l.Load(p, models.FormatUnknown, nil)
	if err != nil {
		t.Fatal(err)
	}
	if img == a {
		t.Fatal("Load returned the cached image")
	}
}

type hotSet map[string]bool

func (h hotSet) Hot(digest string) bool { return h[digest] }

type recordCompiler struct {
	modes []models.CompileMode
}

func (c *recordCompiler) Compile(img *models.LoadedImage, mode models.CompileMode) error {
	c.modes = append(c.modes, mode)
	return nil
}

func TestLoadDexCompileMode(t *testing.T) {
	p := buildDex()
	comp := &recordCompiler{}
	l := NewLoader(nil)
	l.Compiler = comp
	l.Profiles = hotSet{}
	space := mem.NewSpace(32)

	img, err := l.Load(p, models.FormatUnknown, space)
	if err != nil {
		t.Fatal(err)
	}
	if img.Compile != models.CompileDefault {
		t.Fatalf("expected default compile, got %s", img.Compile)
	}
	if len(space.Mappings()) != 0 {
		t.Fatal("dex image should not be mapped")
	}

	l.Profiles = hotSet{Digest(p): true}
	img, err = l.Load(p, models.FormatUnknown, space)
	if err != nil {
		t.Fatal(err)
	}
	if img.Compile != models.CompileSpeedProfile {
		t.Fatalf("expected speed-profile compile, got %s", img.Compile)
	}
	if len(comp.modes) != 2 || comp.modes[1] != models.CompileSpeedProfile {
		t.Fatalf("compiler not invoked: %v", comp.modes)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.exe")
	if err := os.WriteFile(path, buildPE(IMAGE_FILE_MACHINE_AMD64), 0644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Format != models.PE64 {
		t.Fatalf("bad format: %s", img.Format)
	}
	if _, err := LoadFile(path + ".missing"); err == nil {
		t.Fatal("Failed to error on missing file.")
	}
}

func TestPrefixBridge(t *testing.T) {
	config := models.DefaultConfig()
	config.LoadPrefix = "/opt/prefix"
	b := NewPrefixBridge(config)
	img := &models.LoadedImage{Format: models.PE32}
	if err := b.Require(img, []string{"KERNEL32.dll"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Resolved("KERNEL32.dll"); !ok {
		t.Fatal("library not recorded")
	}
	if _, ok := b.Resolved("USER32.dll"); ok {
		t.Fatal("unexpected library")
	}
}

func TestSniff(t *testing.T) {
	if f := Sniff(buildPE(IMAGE_FILE_MACHINE_AMD64)); f != models.PE32 {
		t.Fatalf("expected PE family, got %s", f)
	}
	if f := Sniff(buildELF(ELFCLASS64, binary.LittleEndian)); f.Family() != "elf" {
		t.Fatalf("expected ELF family, got %s", f)
	}
	if f := Sniff(buildEmptyDex()); f != models.DEX {
		t.Fatalf("expected DEX, got %s", f)
	}
	if f := Sniff([]byte("\x7fEL")); f != models.FormatUnknown {
		t.Fatalf("short magic sniffed as %s", f)
	}
}
