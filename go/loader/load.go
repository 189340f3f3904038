package loader

import (
	"bytes"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
)

// Sniff reports the format family of p from its magic, checking PE, then
// ELF, then DEX, then APK. The result is the 32-bit variant for PE and ELF,
// and an APK reports DEX.
func Sniff(p []byte) models.Format {
	r := bytes.NewReader(p)
	switch {
	case MatchPE(r):
		return models.PE32
	case MatchElf(r):
		return models.ELF32
	case MatchDex(r), MatchAPK(r):
		return models.DEX
	}
	return models.FormatUnknown
}

// Parse sniffs p in priority order (PE, ELF, DEX) and runs the matching
// parser.
func Parse(p []byte) (*models.LoadedImage, error) {
	return ParseHint(p, models.FormatUnknown)
}

// ParseHint is Parse, except a known hint selects the parser for that
// format family without sniffing.
func ParseHint(p []byte, hint models.Format) (*models.LoadedImage, error) {
	if hint == models.FormatUnknown {
		hint = Sniff(p)
	}
	switch {
	case hint.IsPE():
		return ParsePE(p)
	case hint.IsELF():
		return ParseELF(p)
	case hint == models.DEX:
		if MatchAPK(bytes.NewReader(p)) {
			return ParseAPK(p)
		}
		return ParseDEX(p)
	}
	return nil, errors.WithStack(models.ErrUnrecognizedFormat)
}

type Loader struct {
	L        hclog.Logger
	Cache    *ImageCache
	Bridge   models.LibraryBridge
	Compiler models.Compiler
	Profiles models.ProfileSource
}

func NewLoader(cache *ImageCache) *Loader {
	l := log.L.Named("loader")
	return &Loader{
		L:        l,
		Cache:    cache,
		Compiler: &LogCompiler{L: l},
	}
}

// Parse returns the parsed image for p. The result may come from the cache
// and must be treated as read-only.
func (l *Loader) Parse(p []byte, hint models.Format) (*models.LoadedImage, error) {
	digest := Digest(p)
	key := digest + "/" + hint.Family()
	if l.Cache != nil {
		if img, ok := l.Cache.Lookup(key); ok {
			l.L.Debug("image cache hit", "key", key)
			return img, nil
		}
	}
	img, err := ParseHint(p, hint)
	if err != nil {
		return nil, err
	}
	img.Digest = digest
	if l.Cache != nil {
		l.L.Debug("cached image", "key", key)
		l.Cache.Set(key, img)
	}
	return img, nil
}

// Load parses p and prepares it for execution. Native images are mapped
// into m (when m is non-nil) and their libraries surfaced to the bridge;
// bytecode images go through the compilation hook instead.
func (l *Loader) Load(p []byte, hint models.Format, m models.Mapper) (*models.LoadedImage, error) {
	parsed, err := l.Parse(p, hint)
	if err != nil {
		return nil, err
	}
	img := *parsed
	if img.Format == models.DEX {
		img.Compile = models.CompileDefault
		if l.Profiles != nil && l.Profiles.Hot(img.Digest) {
			img.Compile = models.CompileSpeedProfile
		}
		if l.Compiler != nil {
			if err := l.Compiler.Compile(&img, img.Compile); err != nil {
				return nil, errors.Wrap(err, "compile hook failed")
			}
		}
		return &img, nil
	}
	if m != nil {
		if err := MapImage(m, &img, p); err != nil {
			return nil, err
		}
	}
	if l.Bridge != nil && len(img.Libraries) > 0 {
		if err := l.Bridge.Require(&img, img.Libraries); err != nil {
			return nil, errors.Wrap(err, "library bridge failed")
		}
	}
	return &img, nil
}

func (l *Loader) LoadFile(path string, hint models.Format, m models.Mapper) (*models.LoadedImage, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	l.L.Debug("loading", "path", path, "size", len(p), "hint", hint.String())
	return l.Load(p, hint, m)
}

// LoadFile parses path without mapping it anywhere.
func LoadFile(path string) (*models.LoadedImage, error) {
	return NewLoader(nil).LoadFile(path, models.FormatUnknown, nil)
}
