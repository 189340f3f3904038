package run

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/winlinos/dwce/go/cmd"
	"github.com/winlinos/dwce/go/models"
)

func Main(args []string) {
	c := cmd.New("run")
	c.Usage = "<image>"
	format := c.Flags.StringP("format", "f", "", "force the image format (pe, pe64, elf, elf64, dex)")
	timeout := c.Flags.Duration("timeout", 0, "graceful termination timeout on interrupt (default from config)")
	c.Parse(args, 1)

	hint, err := models.ParseFormat(*format)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	e, err := c.Engine()
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	ctx := context.Background()
	id, err := e.Manager.Create(ctx, c.Args[0], hint)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	exit := make(chan int, 1)
	go func() {
		code, err := e.Manager.Wait(ctx, id)
		if err != nil {
			cmd.PrintError(err)
			code = 1
		}
		exit <- code
	}()
	select {
	case code := <-exit:
		os.Exit(code)
	case <-sigs:
		if err := e.Manager.Terminate(ctx, id, *timeout); err != nil {
			cmd.PrintError(err)
		}
		os.Exit(<-exit)
	}
}

func init() { cmd.Register("run", "load an image and run it as a managed process", Main) }
