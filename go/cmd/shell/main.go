package shell

import (
	"context"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/shibukawa/configdir"

	"github.com/winlinos/dwce/go/cmd"
)

func Main(args []string) {
	c := cmd.New("shell")
	c.Parse(args, 0)

	e, err := c.Engine()
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	historyPath := ""
	cacheDir := configdir.New("dwce", "shell").QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err == nil {
		historyPath = filepath.Join(cacheDir.Path, "history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dwce> ",
		InterruptPrompt: "^C",
		HistoryFile:     historyPath,
	})
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	defer rl.Close()
	c.Out = rl.Stdout()

	ctx := context.Background()
	s := &Shell{Cmd: c, Engine: e}
	s.Run(ctx, rl.Readline, rl.Stderr())
	if err := e.Close(ctx); err != nil {
		cmd.PrintError(err)
	}
}

func init() { cmd.Register("shell", "interactive process and syscall console", Main) }
