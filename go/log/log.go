package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{Name: "dwce"})
	L.SetLevel(hclog.Info)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// SetLevel applies a level name such as "debug" or "warn". TRACE in the
// environment always wins.
func SetLevel(name string) {
	if os.Getenv("TRACE") != "" {
		return
	}
	if level := hclog.LevelFromString(name); level != hclog.NoLevel {
		L.SetLevel(level)
	}
}
