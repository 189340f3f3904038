package common

import (
	"github.com/winlinos/dwce/go/models"
)

// Op is a canonical operation every ABI table translates onto.
type Op int

const (
	Unmapped Op = iota
	CreateProcess
	TerminateProcess
	AllocateMemory
	ReadFile
	WriteFile
	GetTime
)

var opNames = map[Op]string{
	Unmapped:         "Unmapped",
	CreateProcess:    "CreateProcess",
	TerminateProcess: "TerminateProcess",
	AllocateMemory:   "AllocateMemory",
	ReadFile:         "ReadFile",
	WriteFile:        "WriteFile",
	GetTime:          "GetTime",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "Unmapped"
}

// Syscall is the name the canonical kernel registers the handler under.
func (o Op) Syscall() string {
	return camelToSnakeCase(o.String())
}

// Request is one ABI-tagged call. Args are in the native order of the
// issuing ABI.
type Request struct {
	ABI    models.ABI
	Name   string
	Args   []interface{}
	Caller models.ProcessID
}

type Result struct {
	Op Op
	// handler results without the trailing error
	Values []interface{}
	// first handler result, after the table's return reshaping
	Ret interface{}
}
