package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

var apkMagic = []byte("PK\x03\x04")

// largest dex member read out of an APK
const apkMaxDex = 64 << 20

func MatchAPK(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r, 4), apkMagic)
}

// ParseAPK opens p as a zip archive and parses its classes.dex. Secondary
// classesN.dex members contribute their classes, and native libraries
// under lib/<abi>/ are reported as libraries.
func ParseAPK(p []byte) (*models.LoadedImage, error) {
	m := newImage("apk", p)
	if !MatchAPK(bytes.NewReader(p)) {
		return nil, m.fail("magic", 0, models.ErrInvalidMagic)
	}
	z, err := zip.NewReader(bytes.NewReader(p), int64(len(p)))
	if err != nil {
		return nil, m.fail("central directory", 0, errors.Wrap(models.ErrTruncatedHeader, err.Error()))
	}
	members := make(map[string]*zip.File, len(z.File))
	abis := make(map[string]bool)
	var libs []string
	for _, f := range z.File {
		members[f.Name] = f
		parts := strings.Split(f.Name, "/")
		if len(parts) == 3 && parts[0] == "lib" && strings.HasSuffix(parts[2], ".so") {
			abis[parts[1]] = true
			libs = append(libs, parts[2])
		}
	}
	primary, ok := members["classes.dex"]
	if !ok {
		return nil, m.failf("classes.dex", 0, models.ErrInvalidMagic, "no classes.dex in archive")
	}
	dex, err := m.readMember(primary)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseDEX(dex)
	if err != nil {
		return nil, errors.Wrap(err, "classes.dex")
	}
	// parsed images are shared read-only
	info := *parsed.Dex
	info.Classes = append([]string(nil), info.Classes...)
	info.Container = "apk"
	for i := 2; ; i++ {
		name := fmt.Sprintf("classes%d.dex", i)
		f, ok := members[name]
		if !ok {
			break
		}
		b, err := m.readMember(f)
		if err != nil {
			return nil, err
		}
		sec, err := ParseDEX(b)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		info.Secondary = append(info.Secondary, name)
		info.Classes = append(info.Classes, sec.Dex.Classes...)
	}
	for abi := range abis {
		info.ABIs = append(info.ABIs, abi)
	}
	sort.Strings(info.ABIs)

	img := *parsed
	img.Dex = &info
	img.Libraries = nil
	img.AddLibraries(parsed.Libraries...)
	img.AddLibraries(libs...)
	if err := img.Validate(); err != nil {
		return nil, m.fail("image", 0, err)
	}
	return &img, nil
}

func (m *image) readMember(f *zip.File) ([]byte, error) {
	field := path.Base(f.Name)
	if f.UncompressedSize64 > apkMaxDex {
		return nil, m.failf(field, 0, models.ErrBadSegment, "%d bytes uncompressed", f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, m.failf(field, 0, models.ErrBadSegment, "%s", err)
	}
	defer rc.Close()
	p, err := io.ReadAll(io.LimitReader(rc, apkMaxDex+1))
	if err != nil {
		return nil, m.failf(field, 0, models.ErrBadSegment, "%s", err)
	}
	if len(p) > apkMaxDex {
		return nil, m.failf(field, 0, models.ErrBadSegment, "member larger than %d bytes", apkMaxDex)
	}
	return p, nil
}
