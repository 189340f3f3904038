package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// longest string or buffer shown in a trace line
var TraceStrsize = 30

func hex(a interface{}) string {
	tmp := fmt.Sprintf("0x%x", a)
	if strings.HasPrefix(tmp, "0x-") {
		tmp = "-0x" + tmp[3:]
	}
	return tmp
}

func repr(p []byte) string {
	if len(p) > TraceStrsize {
		return strconv.Quote(string(p[:TraceStrsize])) + "..."
	}
	return strconv.Quote(string(p))
}

func traceArg(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return repr([]byte(v))
	case []byte:
		return repr(v)
	case uint64, uint32, uintptr:
		return hex(v)
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case error:
		return v.Error()
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func traceArgs(args []interface{}) string {
	ret := make([]string, len(args))
	for i, arg := range args {
		ret[i] = traceArg(arg)
	}
	return strings.Join(ret, ", ")
}

// Trace renders a native call, e.g. NtWriteFile(0x1, "hi", 2).
func Trace(req *Request) string {
	return fmt.Sprintf("%s(%s)", req.Name, traceArgs(req.Args))
}

func TraceRet(res *Result, err error) string {
	if err != nil {
		return " = " + err.Error()
	}
	if res == nil || res.Ret == nil {
		return ""
	}
	return " = " + traceArg(res.Ret)
}
