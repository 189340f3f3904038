package models

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Color    bool
	Verbose  bool
	LogLevel string

	// graceful wait used when a terminate request carries no timeout
	TerminateTimeout time.Duration
	// how long to wait for exit after a forced kill
	KillGrace time.Duration

	CacheSize  int
	ProfileDir string
	LoadPrefix string

	// upper bounds on guest controlled sizes; zero picks the default
	MaxReadSize  int
	MaxAllocSize uint64

	// argv prefix per format family ("pe", "elf", "dex"). {path} and
	// {class} are substituted; the path is appended if absent.
	Runners map[string][]string
}

const (
	DEFAULT_MAX_READ  = 16 << 20
	DEFAULT_MAX_ALLOC = 1 << 30
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		TerminateTimeout: 5 * time.Second,
		KillGrace:        2 * time.Second,
		CacheSize:        64,
		MaxReadSize:      DEFAULT_MAX_READ,
		MaxAllocSize:     DEFAULT_MAX_ALLOC,
		Runners: map[string][]string{
			"elf": {},
			"pe":  {"wine"},
			"dex": {"dalvikvm", "-cp", "{path}", "{class}"},
		},
	}
}

func (c *Config) ReadLimit() int {
	if c.MaxReadSize <= 0 {
		return DEFAULT_MAX_READ
	}
	return c.MaxReadSize
}

func (c *Config) AllocLimit() uint64 {
	if c.MaxAllocSize == 0 {
		return DEFAULT_MAX_ALLOC
	}
	return c.MaxAllocSize
}

func (c *Config) Runner(f Format) []string {
	if c.Runners == nil {
		return nil
	}
	return c.Runners[f.Family()]
}

func (c *Config) resolveSymlink(path, target string, force bool) string {
	link, err := os.Lstat(target)
	if err == nil && link.Mode()&os.ModeSymlink != 0 {
		if linked, err := os.Readlink(target); err == nil {
			if !strings.HasPrefix(linked, "/") {
				return filepath.Join(filepath.Dir(target), linked)
			}
			return c.PrefixPath(linked, force)
		}
	}
	exists := !os.IsNotExist(err)
	if force || exists {
		return target
	}
	return path
}

// PrefixPath maps an absolute guest path under LoadPrefix. Without force
// the original path is kept unless the prefixed one exists.
func (c *Config) PrefixPath(path string, force bool) string {
	if c.LoadPrefix == "" {
		return path
	}
	target := path
	if filepath.IsAbs(path) {
		target = filepath.Join(c.LoadPrefix, path)
	}
	return c.resolveSymlink(path, target, force)
}
