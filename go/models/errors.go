package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidMagic       = errors.New("invalid magic")
	ErrTruncatedHeader    = errors.New("truncated header")
	ErrUnsupportedArch    = errors.New("unsupported architecture")
	ErrUnrecognizedFormat = errors.New("unrecognized format")
	ErrBadSegment         = errors.New("malformed segment")
	ErrSegmentOverlap     = errors.New("overlapping load segments")
	ErrBadEntryPoint      = errors.New("entry point outside image")
	ErrProcessNotFound    = errors.New("process not found")
	ErrInvalidArguments   = errors.New("invalid syscall arguments")
)

// FormatError reports where in an image a parser gave up.
type FormatError struct {
	Format string
	Field  string
	Off    int64
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s at %#x: %v", e.Format, e.Field, e.Off, e.Err)
}

func (e *FormatError) Cause() error  { return e.Err }
func (e *FormatError) Unwrap() error { return e.Err }

type LoadFailed struct {
	Path  string
	Stage string
	Err   error
}

func (e *LoadFailed) Error() string {
	return fmt.Sprintf("load failed (%s) %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LoadFailed) Cause() error  { return e.Err }
func (e *LoadFailed) Unwrap() error { return e.Err }

type UnmappedSyscall struct {
	ABI  ABI
	Name string
}

func (e *UnmappedSyscall) Error() string {
	return fmt.Sprintf("unmapped %s syscall: %s", e.ABI, e.Name)
}
