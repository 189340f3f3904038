package main

import (
	"github.com/winlinos/dwce/go/cmd"

	_ "github.com/winlinos/dwce/go/cmd/inspect"
	_ "github.com/winlinos/dwce/go/cmd/run"
	_ "github.com/winlinos/dwce/go/cmd/shell"
)

func main() { cmd.Main() }
