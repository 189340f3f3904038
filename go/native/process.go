//go:build !windows

package native

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
)

// Starter runs images as host processes, through the runner configured
// for their format family.
type Starter struct {
	Config *models.Config
	L      hclog.Logger
}

func NewStarter(config *models.Config) *Starter {
	if config == nil {
		config = models.DefaultConfig()
	}
	return &Starter{Config: config, L: log.L.Named("native")}
}

// Argv builds the host command line for path. Runner entries have {path}
// and {class} substituted, and the path is appended unless some entry
// already names it. Without a runner the image is executed directly.
func (s *Starter) Argv(path string, img *models.LoadedImage) []string {
	var runner []string
	if img != nil {
		runner = s.Config.Runner(img.Format)
	}
	if len(runner) == 0 {
		return []string{path}
	}
	class := ""
	if img.Entry.Kind == models.EntrySymbol {
		class = img.Entry.JavaClass()
	}
	argv := make([]string, 0, len(runner)+1)
	hasPath := false
	for _, arg := range runner {
		if strings.Contains(arg, "{path}") {
			hasPath = true
		}
		arg = strings.Replace(arg, "{path}", path, -1)
		arg = strings.Replace(arg, "{class}", class, -1)
		argv = append(argv, arg)
	}
	if !hasPath {
		argv = append(argv, path)
	}
	return argv
}

func (s *Starter) Start(ctx context.Context, path string, img *models.LoadedImage) (models.Handle, error) {
	argv := s.Argv(path, img)
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "exec %s", argv[0])
	}
	p := &Process{cmd: cmd, done: make(chan struct{})}
	s.L.Debug("started", "pid", cmd.Process.Pid, "argv", strings.Join(argv, " "))
	go p.reap()
	return p, nil
}

// Process is a running host process.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	code int
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
	}
	if state := p.cmd.ProcessState; state != nil {
		code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = 128 + int(ws.Signal())
		}
	}
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

func (p *Process) signal(sig unix.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := p.cmd.Process.Signal(sig)
	if err != nil && !strings.Contains(err.Error(), "process already finished") {
		return errors.Wrapf(err, "signal %d", p.Pid())
	}
	return nil
}

func (p *Process) Signal() error { return p.signal(unix.SIGTERM) }
func (p *Process) Kill() error   { return p.signal(unix.SIGKILL) }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}
