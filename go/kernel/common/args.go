package common

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/winlinos/dwce/go/models"
)

// Reshaper builds the canonical argument list from a native request.
type Reshaper func(req *Request) ([]interface{}, error)

func arg(req *Request, i int) (interface{}, error) {
	if i < 0 || i >= len(req.Args) {
		return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: missing argument %d", req.Name, i)
	}
	return req.Args[i], nil
}

// Args picks native arguments by position.
func Args(idx ...int) Reshaper {
	return func(req *Request) ([]interface{}, error) {
		out := make([]interface{}, len(idx))
		for j, i := range idx {
			v, err := arg(req, i)
			if err != nil {
				return nil, err
			}
			out[j] = v
		}
		return out, nil
	}
}

// Self passes the calling process.
func Self() Reshaper {
	return func(req *Request) ([]interface{}, error) {
		return []interface{}{req.Caller}, nil
	}
}

func Const(v interface{}) Reshaper {
	return func(req *Request) ([]interface{}, error) {
		return []interface{}{v}, nil
	}
}

// Map passes native argument i through fn.
func Map(i int, fn func(interface{}) (interface{}, error)) Reshaper {
	return func(req *Request) ([]interface{}, error) {
		v, err := arg(req, i)
		if err != nil {
			return nil, err
		}
		v, err = fn(v)
		if err != nil {
			return nil, errors.Wrapf(models.ErrInvalidArguments, "%s: argument %d: %s", req.Name, i, err)
		}
		return []interface{}{v}, nil
	}
}

// Seq concatenates the output of each reshaper.
func Seq(rs ...Reshaper) Reshaper {
	return func(req *Request) ([]interface{}, error) {
		var out []interface{}
		for _, r := range rs {
			vals, err := r(req)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	}
}

// None is the reshaper for operations without arguments.
func None() Reshaper {
	return func(req *Request) ([]interface{}, error) {
		return nil, nil
	}
}

// Int reads any integer argument as an int64. Unsigned values keep their
// bit pattern, so a 64-bit -1 handle reads back as -1.
func Int(v interface{}) (int64, error) {
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return val.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(val.Uint()), nil
	}
	return 0, errors.Errorf("%T is not an integer", v)
}
