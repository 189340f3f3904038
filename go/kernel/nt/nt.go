// Package nt maps ntdll and kernel32 entry points onto canonical operations.
package nt

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/models"
)

const (
	PAGE_NOACCESS          = 0x01
	PAGE_READONLY          = 0x02
	PAGE_READWRITE         = 0x04
	PAGE_WRITECOPY         = 0x08
	PAGE_EXECUTE           = 0x10
	PAGE_EXECUTE_READ      = 0x20
	PAGE_EXECUTE_READWRITE = 0x40
	PAGE_EXECUTE_WRITECOPY = 0x80

	STD_INPUT_HANDLE  = -10
	STD_OUTPUT_HANDLE = -11
	STD_ERROR_HANDLE  = -12

	// NtCurrentProcess()
	CURRENT_PROCESS = -1

	// 100ns intervals between 1601-01-01 and the unix epoch
	FILETIME_EPOCH = 116444736000000000
)

var pageProts = map[int64]int{
	PAGE_NOACCESS:          models.PROT_NONE,
	PAGE_READONLY:          models.PROT_READ,
	PAGE_READWRITE:         models.PROT_READ | models.PROT_WRITE,
	PAGE_WRITECOPY:         models.PROT_READ | models.PROT_WRITE,
	PAGE_EXECUTE:           models.PROT_EXEC,
	PAGE_EXECUTE_READ:      models.PROT_READ | models.PROT_EXEC,
	PAGE_EXECUTE_READWRITE: models.PROT_ALL,
	PAGE_EXECUTE_WRITECOPY: models.PROT_ALL,
}

// PageProt converts a PAGE_* value, ignoring modifiers like PAGE_GUARD.
func PageProt(v interface{}) (interface{}, error) {
	n, err := co.Int(v)
	if err != nil {
		return nil, err
	}
	prot, ok := pageProts[n&0xff]
	if !ok {
		return nil, errors.Errorf("unknown page protection %#x", n)
	}
	return prot, nil
}

// fileHandle maps the standard handle pseudo values to host descriptors.
func fileHandle(v interface{}) (interface{}, error) {
	n, err := co.Int(v)
	if err != nil {
		return nil, err
	}
	switch int32(n) {
	case STD_INPUT_HANDLE:
		return 0, nil
	case STD_OUTPUT_HANDLE:
		return 1, nil
	case STD_ERROR_HANDLE:
		return 2, nil
	}
	return int(n), nil
}

// processHandle reads a process handle argument, with the current process
// pseudo handle (and NULL) standing for the caller.
func processHandle(i int) co.Reshaper {
	return func(req *co.Request) ([]interface{}, error) {
		vals, err := co.Args(i)(req)
		if err != nil {
			return nil, err
		}
		n, err := co.Int(vals[0])
		if err != nil {
			return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: process handle: %s", req.Name, err)
		}
		if n == 0 || int32(n) == CURRENT_PROCESS {
			return []interface{}{req.Caller}, nil
		}
		return []interface{}{models.ProcessID(n)}, nil
	}
}

// commandLineImage takes the application name, or failing that the first
// token of the command line, honoring quotes.
func commandLineImage(req *co.Request) ([]interface{}, error) {
	vals, err := co.Args(0, 1)(req)
	if err != nil {
		return nil, err
	}
	if app, _ := vals[0].(string); app != "" {
		return []interface{}{app}, nil
	}
	cmdline, _ := vals[1].(string)
	cmdline = strings.TrimSpace(cmdline)
	if strings.HasPrefix(cmdline, `"`) {
		if end := strings.Index(cmdline[1:], `"`); end >= 0 {
			return []interface{}{cmdline[1 : end+1]}, nil
		}
	}
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		return []interface{}{fields[0]}, nil
	}
	return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: no image name", req.Name)
}

func FileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + FILETIME_EPOCH
}

func fileTime(v interface{}) interface{} {
	return FileTime(v.(time.Time))
}

func tickCount(v interface{}) interface{} {
	return uint32(v.(time.Time).UnixNano() / int64(time.Millisecond))
}

func NewTable() *co.Table {
	create := func(image co.Reshaper) co.Entry {
		return co.Entry{Op: co.CreateProcess, Reshape: co.Seq(image, co.Const(models.PE32))}
	}
	terminate := co.Entry{Op: co.TerminateProcess, Reshape: processHandle(0)}
	return &co.Table{
		ABI: models.Windows,
		Entries: map[string]co.Entry{
			// ObjectAttributes carries the image name
			"NtCreateProcess":   create(co.Args(2)),
			"NtCreateProcessEx": create(co.Args(2)),
			// ProcessParameters->ImagePathName
			"NtCreateUserProcess": create(co.Args(8)),
			"CreateProcessA":      create(commandLineImage),
			"CreateProcessW":      create(commandLineImage),

			"NtTerminateProcess": terminate,
			"TerminateProcess":   terminate,
			"ExitProcess":        {Op: co.TerminateProcess, Reshape: co.Self()},

			"NtAllocateVirtualMemory": {Op: co.AllocateMemory, Reshape: co.Seq(processHandle(0), co.Args(1, 3), co.Map(5, PageProt))},
			"VirtualAlloc":            {Op: co.AllocateMemory, Reshape: co.Seq(co.Self(), co.Args(0, 1), co.Map(3, PageProt))},

			"NtReadFile":  {Op: co.ReadFile, Reshape: co.Seq(co.Map(0, fileHandle), co.Args(6))},
			"ReadFile":    {Op: co.ReadFile, Reshape: co.Seq(co.Map(0, fileHandle), co.Args(2))},
			"NtWriteFile": {Op: co.WriteFile, Reshape: co.Seq(co.Map(0, fileHandle), co.Args(5, 6))},
			"WriteFile":   {Op: co.WriteFile, Reshape: co.Seq(co.Map(0, fileHandle), co.Args(1, 2))},

			"NtQuerySystemTime":       {Op: co.GetTime, Reshape: co.None(), Return: fileTime},
			"GetSystemTimeAsFileTime": {Op: co.GetTime, Reshape: co.None(), Return: fileTime},
			"GetTickCount":            {Op: co.GetTime, Reshape: co.None(), Return: tickCount},
		},
	}
}
