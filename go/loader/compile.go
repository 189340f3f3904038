package loader

import (
	hclog "github.com/hashicorp/go-hclog"

	"github.com/winlinos/dwce/go/models"
)

// LogCompiler is the default compilation hook. It produces no code and only
// reports which path was chosen.
type LogCompiler struct {
	L hclog.Logger
}

func (c *LogCompiler) Compile(img *models.LoadedImage, mode models.CompileMode) error {
	c.L.Info("compile", "entry", img.Entry.String(), "mode", mode.String(), "digest", img.Digest)
	return nil
}
