package common

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

type Syscall struct {
	Name     string
	Kernel   *KernelBase
	Instance reflect.Value
	Method   reflect.Method
	In       []reflect.Type
	Out      []reflect.Type
	// the handler takes a context.Context ahead of its arguments
	Context bool
}

func (sys Syscall) convert(args []interface{}) ([]reflect.Value, error) {
	if len(args) != len(sys.In) {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s wants %d arguments, got %d", sys.Name, len(sys.In), len(args))
	}
	for i, arg := range args {
		if arg == nil {
			return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: argument %d is nil", sys.Name, i)
		}
	}
	converted, err := sys.Kernel.Argjoy.Convert(sys.In, false, args)
	if err != nil {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: %s", sys.Name, err)
	}
	return converted, nil
}

// Call converts args to the handler's parameter types and invokes it. A
// trailing error result is split off and returned; the other results are
// returned in order.
func (sys Syscall) Call(ctx context.Context, args []interface{}) ([]interface{}, error) {
	converted, err := sys.convert(args)
	if err != nil {
		return nil, err
	}
	in := make([]reflect.Value, 0, len(converted)+2)
	in = append(in, sys.Instance)
	if sys.Context {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	in = append(in, converted...)
	out := sys.Method.Func.Call(in)

	var ret []interface{}
	for i, val := range out {
		if i == len(out)-1 && sys.Out[i] == errorType {
			if !val.IsNil() {
				err = val.Interface().(error)
			}
			break
		}
		ret = append(ret, val.Interface())
	}
	return ret, err
}
