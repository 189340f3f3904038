package dwce

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/winlinos/dwce/go/kernel/android"
	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/kernel/linux"
	"github.com/winlinos/dwce/go/kernel/nt"
	"github.com/winlinos/dwce/go/loader"
	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
	"github.com/winlinos/dwce/go/profile"
)

// Engine wires the loader, the process registry and the syscall layer
// together with one configuration.
type Engine struct {
	L      hclog.Logger
	Config *models.Config

	Cache      *loader.ImageCache
	Bridge     *loader.PrefixBridge
	Loader     *loader.Loader
	Profiles   *profile.Store
	Manager    *Manager
	Kernel     *co.HostKernel
	Dispatcher *co.Dispatcher
}

func NewEngine(config *models.Config, starter models.Starter, io models.HostIO) (*Engine, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	profiles, err := profile.Open(config.ProfileDir)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		L:        log.L.Named("engine"),
		Config:   config,
		Cache:    loader.NewImageCache(config.CacheSize),
		Bridge:   loader.NewPrefixBridge(config),
		Profiles: profiles,
	}
	e.Loader = loader.NewLoader(e.Cache)
	e.Loader.Bridge = e.Bridge
	e.Loader.Profiles = profiles

	e.Manager = NewManager(e.Loader, starter, config)
	e.Kernel = co.NewHostKernel(e.Manager, e.Manager, io, config)
	e.Dispatcher = co.NewDispatcher(e.Kernel, nt.NewTable(), linux.NewTable(), android.NewTable())
	return e, nil
}

func (e *Engine) Dispatch(ctx context.Context, req *co.Request) (*co.Result, error) {
	return e.Dispatcher.Dispatch(ctx, req)
}

// Syscall dispatches req and folds the outcome into the native return
// convention of its ABI: the result on success, a status otherwise.
func (e *Engine) Syscall(ctx context.Context, req *co.Request) interface{} {
	res, err := e.Dispatch(ctx, req)
	if err != nil {
		e.L.Debug("syscall failed", "abi", req.ABI.String(), "name", req.Name, "error", err)
		return co.Status(req.ABI, err)
	}
	if res.Ret == nil {
		return co.Status(req.ABI, nil)
	}
	return res.Ret
}

// Close terminates every process still registered.
func (e *Engine) Close(ctx context.Context) error {
	return e.Manager.Shutdown(ctx)
}
