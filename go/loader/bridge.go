package loader

import (
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
)

// PrefixBridge records where each required library would be found under
// the configured load prefix. It never fails: unresolved names map to
// themselves and are left for the native bridge.
type PrefixBridge struct {
	L      hclog.Logger
	Config *models.Config

	mu       sync.Mutex
	resolved map[string]string
}

func NewPrefixBridge(config *models.Config) *PrefixBridge {
	return &PrefixBridge{
		L:        log.L.Named("bridge"),
		Config:   config,
		resolved: make(map[string]string),
	}
}

func (b *PrefixBridge) Require(img *models.LoadedImage, libs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, lib := range libs {
		path := b.Config.PrefixPath(lib, false)
		b.resolved[lib] = path
		b.L.Debug("library required", "format", img.Format, "name", lib, "path", path)
	}
	return nil
}

func (b *PrefixBridge) Resolved(lib string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, ok := b.resolved[lib]
	return path, ok
}
