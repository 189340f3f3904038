package common

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/lunixbochs/argjoy"
)

type KernelBase struct {
	Syscalls map[string]Syscall
	Argjoy   argjoy.Argjoy

	once sync.Once
}

func (k *KernelBase) Base() *KernelBase {
	return k
}

// Kernel is implemented by anything embedding KernelBase. Its exported
// methods become syscalls named in snake_case.
type Kernel interface {
	Base() *KernelBase
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

func camelToSnakeCase(name string) string {
	var words []string
	last := 0
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				words = append(words, name[last:i])
			}
			last = i
		}
	}
	words = append(words, name[last:])
	return strings.ToLower(strings.Join(words, "_"))
}

func initKernel(kf Kernel) {
	k := kf.Base()
	k.Syscalls = make(map[string]Syscall)
	instance := reflect.ValueOf(kf)
	typ := instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := method.Name
		if name == "Base" {
			continue
		} else if r, size := utf8.DecodeRuneInString(name); size <= 0 || !unicode.IsUpper(r) {
			// skip private or broken unicode methods
			continue
		}
		name = camelToSnakeCase(name)
		in := make([]reflect.Type, method.Type.NumIn()-1)
		for j := 1; j < method.Type.NumIn(); j++ {
			in[j-1] = method.Type.In(j)
		}
		hasCtx := len(in) > 0 && in[0] == contextType
		if hasCtx {
			in = in[1:]
		}
		out := make([]reflect.Type, method.Type.NumOut())
		for j := 0; j < method.Type.NumOut(); j++ {
			out[j] = method.Type.Out(j)
		}
		k.Syscalls[name] = Syscall{
			Name:     name,
			Kernel:   k,
			Instance: instance,
			Method:   method,
			In:       in,
			Out:      out,
			Context:  hasCtx,
		}
	}
	k.Argjoy.Register(assignCodec)
	k.Argjoy.Register(commonArgCodec)
	k.Argjoy.Register(argjoy.IntToInt)
	k.Argjoy.Register(numericCodec)
}

// Lookup returns the named syscall of kf, building the table on first use.
func Lookup(kf Kernel, name string) *Syscall {
	k := kf.Base()
	k.once.Do(func() { initKernel(kf) })
	if sys, ok := k.Syscalls[name]; ok {
		return &sys
	}
	return nil
}
