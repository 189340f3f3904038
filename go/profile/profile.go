package profile

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/snappy"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/winlinos/dwce/go/log"
)

var PROFILE_MAGIC = "DWPF"

const PROFILE_VERSION = 1

type fileHeader struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
	// image digest, base64 of a 32-byte hash
	Digest string `struc:"[44]byte"`
	Count  uint32
}

type record struct {
	NameLen uint16 `struc:"uint16,sizeof=Name"`
	Name    string
	Samples uint32
}

type Method struct {
	Name    string
	Samples uint32
}

// Profile lists the methods of one image seen hot in earlier runs.
type Profile struct {
	Digest  string
	Methods []Method
}

// Store keeps one profile file per image digest.
type Store struct {
	Dir string
	L   hclog.Logger
}

// Open returns a store rooted at dir, defaulting to the user cache folder.
func Open(dir string) (*Store, error) {
	if dir == "" {
		cacheDir := configdir.New("dwce", "profiles").QueryCacheFolder()
		if err := cacheDir.MkdirAll(); err != nil {
			return nil, errors.Wrap(err, "failed to create profile cache")
		}
		dir = cacheDir.Path
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create profile dir")
	}
	return &Store{Dir: dir, L: log.L.Named("profile")}, nil
}

func (s *Store) path(digest string) string {
	return filepath.Join(s.Dir, digest+".prof")
}

func validDigest(digest string) bool {
	return len(digest) == 44 && !strings.ContainsAny(digest, "/\\.")
}

func (s *Store) Save(p *Profile) error {
	if !validDigest(p.Digest) {
		return errors.Errorf("invalid profile digest %q", p.Digest)
	}
	methods := append([]Method(nil), p.Methods...)
	sort.Slice(methods, func(i, j int) bool { return methods[i].Samples > methods[j].Samples })

	tmp := s.path(p.Digest) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(tmp)
	w := bufio.NewWriter(f)
	header := &fileHeader{Magic: PROFILE_MAGIC, Version: PROFILE_VERSION, Digest: p.Digest, Count: uint32(len(methods))}
	if err := struc.Pack(w, header); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	for _, m := range methods {
		if err := struc.Pack(zw, &record{Name: m.Name, Samples: m.Samples}); err != nil {
			f.Close()
			return errors.Wrap(err, "failed to pack method")
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	s.L.Debug("saved profile", "digest", p.Digest, "methods", len(methods))
	return errors.WithStack(os.Rename(tmp, s.path(p.Digest)))
}

// Lookup returns the stored profile for digest, or nil if there is none.
func (s *Store) Lookup(digest string) (*Profile, error) {
	if !validDigest(digest) {
		return nil, nil
	}
	f, err := os.Open(s.path(digest))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var header fileHeader
	if err := struc.Unpack(r, &header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if header.Magic != PROFILE_MAGIC {
		return nil, errors.New("invalid profile magic")
	}
	if header.Version != PROFILE_VERSION {
		return nil, errors.Errorf("unsupported profile version %d", header.Version)
	}
	if header.Digest != digest {
		return nil, errors.Errorf("profile digest mismatch: %s", header.Digest)
	}
	p := &Profile{Digest: digest}
	zr := snappy.NewReader(r)
	for i := uint32(0); i < header.Count; i++ {
		var rec record
		if err := struc.Unpack(zr, &rec); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack method %d", i)
		}
		p.Methods = append(p.Methods, Method{Name: rec.Name, Samples: rec.Samples})
	}
	return p, nil
}

// Hot reports whether a usable profile with at least one method exists.
// Damaged profiles count as absent.
func (s *Store) Hot(digest string) bool {
	p, err := s.Lookup(digest)
	if err != nil {
		s.L.Warn("ignoring profile", "digest", digest, "error", err)
		return false
	}
	return p != nil && len(p.Methods) > 0
}

func (s *Store) Remove(digest string) error {
	err := os.Remove(s.path(digest))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.WithStack(err)
}
