//go:build !windows

package native

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/winlinos/dwce/go/models"
)

func TestArgv(t *testing.T) {
	s := NewStarter(nil)
	dex := &models.LoadedImage{Format: models.DEX, Entry: models.SymbolEntry("Lcom/example/Main;", "main")}
	argv := s.Argv("/data/app.dex", dex)
	want := []string{"dalvikvm", "-cp", "/data/app.dex", "com.example.Main"}
	if !reflect.DeepEqual(argv, want) {
		t.Fatalf("dex argv %v != %v", argv, want)
	}
	pe := &models.LoadedImage{Format: models.PE32}
	argv = s.Argv("/tmp/a.exe", pe)
	if !reflect.DeepEqual(argv, []string{"wine", "/tmp/a.exe"}) {
		t.Fatalf("pe argv %v", argv)
	}
	elf := &models.LoadedImage{Format: models.ELF64}
	argv = s.Argv("/bin/true", elf)
	if !reflect.DeepEqual(argv, []string{"/bin/true"}) {
		t.Fatalf("elf argv %v", argv)
	}
}

func shStarter(script string) *Starter {
	config := models.DefaultConfig()
	config.Runners["elf"] = []string{"/bin/sh", "-c", script, "{path}"}
	return NewStarter(config)
}

func wait(t *testing.T, h models.Handle, d time.Duration) {
	select {
	case <-h.Done():
	case <-time.After(d):
		t.Fatal("process did not exit")
	}
}

func TestStartExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	img := &models.LoadedImage{Format: models.ELF64}
	h, err := shStarter("exit 3").Start(context.Background(), "guest", img)
	if err != nil {
		t.Fatal(err)
	}
	if h.Pid() <= 0 {
		t.Fatalf("bad pid %d", h.Pid())
	}
	wait(t, h, 5*time.Second)
	if h.ExitCode() != 3 {
		t.Fatalf("exit code %d != 3", h.ExitCode())
	}
	// signalling an exited process is not an error
	if err := h.Signal(); err != nil {
		t.Fatal(err)
	}
}

func TestSignalKill(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	img := &models.LoadedImage{Format: models.ELF64}
	h, err := shStarter("sleep 5").Start(context.Background(), "guest", img)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Signal(); err != nil {
		t.Fatal(err)
	}
	wait(t, h, 5*time.Second)
	if h.ExitCode() != 143 {
		t.Fatalf("exit code %d != 143", h.ExitCode())
	}

	h, err = shStarter("trap '' TERM; sleep 5").Start(context.Background(), "guest", img)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	h.Signal()
	select {
	case <-h.Done():
		t.Fatal("process ignoring SIGTERM exited")
	case <-time.After(200 * time.Millisecond):
	}
	if err := h.Kill(); err != nil {
		t.Fatal(err)
	}
	wait(t, h, 5*time.Second)
	if h.ExitCode() != 137 {
		t.Fatalf("exit code %d != 137", h.ExitCode())
	}
}

func TestStartMissing(t *testing.T) {
	img := &models.LoadedImage{Format: models.ELF64}
	if _, err := NewStarter(nil).Start(context.Background(), "/nonexistent/guest", img); err == nil {
		t.Fatal("started a missing binary")
	}
}
