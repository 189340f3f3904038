package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	dwce "github.com/winlinos/dwce/go"
	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
	"github.com/winlinos/dwce/go/native"
)

// Cmd holds what every subcommand shares: flags, configuration and a
// possibly colourised output stream.
type Cmd struct {
	Name   string
	Config *models.Config
	Flags  *pflag.FlagSet
	Out    io.Writer

	// subcommand arguments after flag parsing
	Args []string

	Usage string
}

func New(name string) *Cmd {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.String("config", "", "config file (default: dwce.{toml,yaml,json} in the user config dir)")
	fs.BoolP("verbose", "v", false, "verbose output")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("prefix", "", "library load prefix")
	fs.String("color", "auto", "colourise output (auto, always, never)")
	fs.String("profile-dir", "", "directory holding dex profiles")
	return &Cmd{Name: name, Flags: fs, Out: colorable.NewColorableStdout()}
}

// Parse handles flags and loads the configuration. It exits with usage
// when fewer than min positional arguments remain.
func (c *Cmd) Parse(argv []string, min int) {
	fs := c.Flags
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] %s\n\nOptions:\n", argv[0], c.Usage)
		fs.PrintDefaults()
	}
	fs.Parse(argv[1:])
	c.Args = fs.Args()
	if len(c.Args) < min {
		fs.Usage()
		os.Exit(1)
	}
	config, err := LoadConfig(fs)
	if err != nil {
		PrintError(err)
		os.Exit(1)
	}
	c.Config = config
	log.SetLevel(config.LogLevel)
	if config.Verbose {
		log.SetLevel("debug")
	}
}

func (c *Cmd) Engine() (*dwce.Engine, error) {
	return dwce.NewEngine(c.Config, native.NewStarter(c.Config), native.HostIO{})
}

// Colorize wraps s in the ansi style when colour is enabled.
func (c *Cmd) Colorize(style, s string) string {
	if c.Config == nil || !c.Config.Color {
		return s
	}
	return ansi.Color(s, style)
}

func (c *Cmd) Printf(f string, args ...interface{}) {
	fmt.Fprintf(c.Out, f, args...)
}

// colorEnabled resolves the --color setting against the terminal.
func colorEnabled(mode string) bool {
	switch mode {
	case "always", "true", "yes":
		return true
	case "never", "false", "no":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// StateStyle picks the ansi style for a process state.
func StateStyle(s models.ProcessState) string {
	switch s {
	case models.Running:
		return "green"
	case models.Terminating:
		return "yellow"
	case models.Terminated:
		return "red"
	}
	return "default"
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err and the deepest stack trace attached to it.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)

	var tracer stackTracer
	for e := err; e != nil; {
		if st, ok := e.(stackTracer); ok {
			tracer = st
		}
		cause, ok := e.(interface{ Cause() error })
		if !ok {
			break
		}
		e = cause.Cause()
	}
	if tracer == nil {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range tracer.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", f[2])
	}
}
