// Package android maps framework and core library calls onto canonical
// operations.
package android

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/models"
)

// fd android.util.Log writes to
const LOG_FD = 2

// Resolve accepts dotted names, with or without a method signature, and
// dex-style references like "Landroid/util/Log;->i(...)I".
func Resolve(name string) string {
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	if strings.HasPrefix(name, "L") {
		if i := strings.Index(name, ";->"); i > 0 {
			name = strings.Replace(name[1:i], "/", ".", -1) + "." + name[i+3:]
		}
	}
	return name
}

// command takes the program from a String or a String[] command line.
func command(v interface{}) (interface{}, error) {
	switch c := v.(type) {
	case string:
		if fields := strings.Fields(c); len(fields) > 0 {
			return fields[0], nil
		}
	case []string:
		if len(c) > 0 && c[0] != "" {
			return c[0], nil
		}
	}
	return nil, errors.Errorf("no command in %v", v)
}

// logLine renders Log.x(tag, msg) as one line for the log fd.
func logLine(req *co.Request) ([]interface{}, error) {
	vals, err := co.Args(0, 1)(req)
	if err != nil {
		return nil, err
	}
	tag, ok1 := vals[0].(string)
	msg, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: tag and message must be strings", req.Name)
	}
	line := tag + ": " + msg + "\n"
	return []interface{}{LOG_FD, []byte(line), -1}, nil
}

// streamWrite reshapes write(fd, b, off, len) into a write of b[off:].
func streamWrite(req *co.Request) ([]interface{}, error) {
	vals, err := co.Args(0, 1, 2, 3)(req)
	if err != nil {
		return nil, err
	}
	b, ok := vals[1].([]byte)
	if !ok {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: buffer must be byte[]", req.Name)
	}
	off, err := co.Int(vals[2])
	if err != nil || off < 0 || off > int64(len(b)) {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: bad offset %v", req.Name, vals[2])
	}
	return []interface{}{vals[0], b[off:], vals[3]}, nil
}

func millis(v interface{}) interface{} {
	return v.(time.Time).UnixNano() / int64(time.Millisecond)
}

func nanos(v interface{}) interface{} {
	return v.(time.Time).UnixNano()
}

func NewTable() *co.Table {
	exec := co.Entry{Op: co.CreateProcess, Reshape: co.Seq(co.Map(0, command), co.Const(models.FormatUnknown))}
	alloc := co.Entry{Op: co.AllocateMemory, Reshape: co.Seq(co.Self(), co.Const(uint64(0)), co.Args(0), co.Const(models.PROT_READ|models.PROT_WRITE))}
	log := co.Entry{Op: co.WriteFile, Reshape: logLine}
	return &co.Table{
		ABI:     models.Android,
		Resolve: Resolve,
		Entries: map[string]co.Entry{
			"java.lang.ProcessBuilder.start":     exec,
			"java.lang.Runtime.exec":             exec,
			"android.os.Process.killProcess":     {Op: co.TerminateProcess, Reshape: co.Args(0)},
			"java.lang.System.exit":              {Op: co.TerminateProcess, Reshape: co.Self()},
			"java.nio.ByteBuffer.allocateDirect": alloc,

			"java.io.FileInputStream.read":   {Op: co.ReadFile, Reshape: co.Args(0, 3)},
			"java.io.FileOutputStream.write": {Op: co.WriteFile, Reshape: streamWrite},

			"android.util.Log.v": log,
			"android.util.Log.d": log,
			"android.util.Log.i": log,
			"android.util.Log.w": log,
			"android.util.Log.e": log,

			"java.lang.System.currentTimeMillis": {Op: co.GetTime, Reshape: co.None(), Return: millis},
			"java.lang.System.nanoTime":          {Op: co.GetTime, Reshape: co.None(), Return: nanos},
		},
	}
}
