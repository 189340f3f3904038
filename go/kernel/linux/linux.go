// Package linux maps Linux system calls onto canonical operations.
package linux

import (
	"strconv"
	"strings"
	"time"

	"github.com/lunixbochs/ghostrace/ghost/sys/num"
	"golang.org/x/sys/unix"

	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/models"
)

// Resolve accepts a plain name, a "sys_" prefixed one, or an i386 syscall
// number.
func Resolve(name string) string {
	if n, err := strconv.Atoi(name); err == nil {
		if sysName, ok := num.Linux_x86[n]; ok {
			return sysName
		}
		return name
	}
	return strings.TrimPrefix(name, "sys_")
}

func fd(v interface{}) (interface{}, error) {
	n, err := co.Int(v)
	return int(int32(n)), err
}

func prot(v interface{}) (interface{}, error) {
	n, err := co.Int(v)
	return int(n) & models.PROT_ALL, err
}

// mmap2 takes its offset in pages; the allocation does not use it.
var mmap = co.Entry{Op: co.AllocateMemory, Reshape: co.Seq(co.Self(), co.Args(0, 1), co.Map(2, prot))}

func unixTime(v interface{}) interface{} {
	return v.(time.Time).Unix()
}

func timespec(v interface{}) interface{} {
	return unix.NsecToTimespec(v.(time.Time).UnixNano())
}

func timeval(v interface{}) interface{} {
	return unix.NsecToTimeval(v.(time.Time).UnixNano())
}

func NewTable() *co.Table {
	exit := co.Entry{Op: co.TerminateProcess, Reshape: co.Self()}
	return &co.Table{
		ABI:     models.Linux,
		Resolve: Resolve,
		Entries: map[string]co.Entry{
			"execve":     {Op: co.CreateProcess, Reshape: co.Seq(co.Args(0), co.Const(models.FormatUnknown))},
			"kill":       {Op: co.TerminateProcess, Reshape: co.Args(0)},
			"exit":       exit,
			"exit_group": exit,

			"mmap":  mmap,
			"mmap2": mmap,

			"read":  {Op: co.ReadFile, Reshape: co.Seq(co.Map(0, fd), co.Args(2))},
			"write": {Op: co.WriteFile, Reshape: co.Seq(co.Map(0, fd), co.Args(1, 2))},

			"time":          {Op: co.GetTime, Reshape: co.None(), Return: unixTime},
			"clock_gettime": {Op: co.GetTime, Reshape: co.None(), Return: timespec},
			"gettimeofday":  {Op: co.GetTime, Reshape: co.None(), Return: timeval},
		},
	}
}
