package common

import (
	"context"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/log"
	"github.com/winlinos/dwce/go/models"
)

// Dispatcher routes ABI-tagged requests through their table onto the
// canonical kernel. It only translates; every effect happens in the kernel.
type Dispatcher struct {
	L      hclog.Logger
	Kernel Kernel

	mu     sync.RWMutex
	tables map[models.ABI]*Table
}

func NewDispatcher(k Kernel, tables ...*Table) *Dispatcher {
	d := &Dispatcher{
		L:      log.L.Named("syscall"),
		Kernel: k,
		tables: make(map[models.ABI]*Table),
	}
	for _, t := range tables {
		d.Register(t)
	}
	return d
}

// Register installs t, replacing any table for the same ABI.
func (d *Dispatcher) Register(t *Table) {
	d.mu.Lock()
	d.tables[t.ABI] = t
	d.mu.Unlock()
}

func (d *Dispatcher) Table(abi models.ABI) *Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tables[abi]
}

func (d *Dispatcher) Lookup(abi models.ABI, name string) (Entry, bool) {
	t := d.Table(abi)
	if t == nil {
		return Entry{}, false
	}
	return t.Lookup(name)
}

// Dispatch never panics: a handler panic comes back as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.Errorf("%s %s: handler panic: %v", req.ABI, req.Name, r)
		}
		if d.L.IsTrace() {
			d.L.Trace(Trace(req)+TraceRet(res, err), "abi", req.ABI.String(), "caller", uint64(req.Caller))
		}
	}()
	entry, ok := d.Lookup(req.ABI, req.Name)
	if !ok {
		return nil, errors.WithStack(&models.UnmappedSyscall{ABI: req.ABI, Name: req.Name})
	}
	sys := Lookup(d.Kernel, entry.Op.Syscall())
	if sys == nil {
		return nil, errors.WithStack(&models.UnmappedSyscall{ABI: req.ABI, Name: req.Name})
	}
	reshape := entry.Reshape
	if reshape == nil {
		reshape = None()
	}
	args, err := reshape(req)
	if err != nil {
		return nil, err
	}
	out, err := sys.Call(ctx, args)
	if err != nil {
		return nil, errors.Wrapf(err, "%s(%s)", req.Name, entry.Op)
	}
	res = &Result{Op: entry.Op, Values: out}
	if len(out) > 0 {
		res.Ret = out[0]
	}
	if entry.Return != nil {
		res.Ret = entry.Return(res.Ret)
	}
	return res, nil
}
