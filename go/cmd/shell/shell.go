package shell

import (
	"context"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	dwce "github.com/winlinos/dwce/go"
	"github.com/winlinos/dwce/go/cmd"
	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/loader"
	"github.com/winlinos/dwce/go/models"
	"github.com/winlinos/dwce/go/profile"
)

var errQuit = errors.New("quit")

const help = `commands:
  load <path> [format]         create a process from an image
  ps                           list processes
  kill <id> [timeout]          terminate a process
  wait <id>                    wait for a process to exit
  use <id>                     set the calling process for sys
  sys <abi> <name> [args...]   dispatch a native call (abi: windows, linux, android)
  profile <path>               show the stored profile for an image
  profile add <path> <method> <samples>
  help
  exit
`

// Shell runs console commands against an engine.
type Shell struct {
	*cmd.Cmd
	Engine *dwce.Engine
	// caller used for sys requests
	Caller models.ProcessID
}

func (s *Shell) Exec(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	switch name {
	case "help", "?":
		s.Printf("%s", help)
	case "exit", "quit":
		return errQuit
	case "load":
		return s.load(ctx, args)
	case "ps":
		s.ps()
	case "kill":
		return s.kill(ctx, args)
	case "wait":
		return s.wait(ctx, args)
	case "use":
		id, err := s.id(args, 1)
		if err != nil {
			return err
		}
		s.Caller = id
	case "sys":
		return s.sys(ctx, args)
	case "profile":
		return s.profile(args)
	default:
		return errors.Errorf("unknown command %q (try help)", name)
	}
	return nil
}

// splitArgs splits on whitespace, keeping double-quoted strings together
// with their quotes so sys can tell strings from numbers.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	quoted, escaped, inArg := false, false, false
	for _, r := range line {
		switch {
		case escaped:
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t'):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
			continue
		}
		cur.WriteRune(r)
		inArg = true
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

func (s *Shell) id(args []string, min int) (models.ProcessID, error) {
	if len(args) < min {
		return 0, errors.New("missing process id")
	}
	n, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return 0, errors.Errorf("bad process id %q", args[0])
	}
	return models.ProcessID(n), nil
}

func (s *Shell) load(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: load <path> [format]")
	}
	hint := models.FormatUnknown
	if len(args) > 1 {
		var err error
		if hint, err = models.ParseFormat(args[1]); err != nil {
			return err
		}
	}
	id, err := s.Engine.Manager.Create(ctx, args[0], hint)
	if err != nil {
		return err
	}
	s.Printf("%d\n", id)
	return nil
}

func (s *Shell) ps() {
	s.Printf("%4s %7s %-6s %-11s %s\n", "ID", "PID", "FORMAT", "STATE", "PATH")
	for _, d := range s.Engine.Manager.List() {
		state := s.Colorize(cmd.StateStyle(d.State), d.State.String())
		// pad before colouring so escape codes don't break alignment
		pad := strings.Repeat(" ", 11-len(d.State.String()))
		s.Printf("%4d %7d %-6s %s%s %s\n", d.ID, d.Pid, d.Format, state, pad, d.Path)
	}
}

func (s *Shell) kill(ctx context.Context, args []string) error {
	id, err := s.id(args, 1)
	if err != nil {
		return err
	}
	var timeout time.Duration
	if len(args) > 1 {
		if timeout, err = time.ParseDuration(args[1]); err != nil {
			return errors.WithStack(err)
		}
	}
	return s.Engine.Manager.Terminate(ctx, id, timeout)
}

func (s *Shell) wait(ctx context.Context, args []string) error {
	id, err := s.id(args, 1)
	if err != nil {
		return err
	}
	code, err := s.Engine.Manager.Wait(ctx, id)
	if err != nil {
		return err
	}
	s.Printf("exit %d\n", code)
	return nil
}

// sysArg turns a console token into a call argument: quoted tokens are
// strings, anything that parses as an integer is an int64.
func sysArg(tok string) interface{} {
	if len(tok) >= 2 && tok[0] == '"' {
		if s, err := strconv.Unquote(tok); err == nil {
			return s
		}
	}
	if n, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return n
	}
	if n, err := strconv.ParseUint(tok, 0, 64); err == nil {
		return n
	}
	return tok
}

func (s *Shell) sys(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: sys <abi> <name> [args...]")
	}
	abi, err := models.ParseABI(args[0])
	if err != nil {
		return err
	}
	req := &co.Request{ABI: abi, Name: args[1], Caller: s.Caller}
	for _, tok := range args[2:] {
		req.Args = append(req.Args, sysArg(tok))
	}
	res, err := s.Engine.Dispatch(ctx, req)
	s.Printf("%s%s\n", co.Trace(req), co.TraceRet(res, err))
	if err != nil {
		s.Printf("status %#x\n", uint64(co.Status(abi, err)))
	}
	return nil
}

func (s *Shell) profile(args []string) error {
	store := s.Engine.Profiles
	if len(args) == 4 && args[0] == "add" {
		digest, err := fileDigest(args[1])
		if err != nil {
			return err
		}
		samples, err := strconv.ParseUint(args[3], 0, 32)
		if err != nil {
			return errors.WithStack(err)
		}
		prof, err := store.Lookup(digest)
		if err != nil {
			return err
		}
		if prof == nil {
			prof = &profile.Profile{Digest: digest}
		}
		prof.Methods = append(prof.Methods, profile.Method{Name: args[2], Samples: uint32(samples)})
		return store.Save(prof)
	}
	if len(args) != 1 {
		return errors.New("usage: profile <path> | profile add <path> <method> <samples>")
	}
	digest, err := fileDigest(args[0])
	if err != nil {
		return err
	}
	prof, err := store.Lookup(digest)
	if err != nil {
		return err
	}
	if prof == nil {
		s.Printf("no profile for %s\n", digest)
		return nil
	}
	methods := append([]profile.Method(nil), prof.Methods...)
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].Samples > methods[j].Samples })
	for _, m := range methods {
		s.Printf("%8d %s\n", m.Samples, m.Name)
	}
	return nil
}

func fileDigest(path string) (string, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return loader.Digest(p), nil
}

// Run reads commands from lines until exit, EOF or an interrupt.
func (s *Shell) Run(ctx context.Context, lines func() (string, error), errOut io.Writer) {
	for {
		line, err := lines()
		if err != nil {
			return
		}
		if err := s.Exec(ctx, line); err != nil {
			if err == errQuit {
				return
			}
			io.WriteString(errOut, s.Colorize("red", "error: "+err.Error())+"\n")
		}
	}
}
