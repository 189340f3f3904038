package common

import (
	"reflect"

	"github.com/lunixbochs/argjoy"

	"github.com/winlinos/dwce/go/models"
)

func assignCodec(arg interface{}, vals []interface{}) error {
	dst := reflect.ValueOf(arg).Elem()
	src := reflect.ValueOf(vals[0])
	if !src.IsValid() || !src.Type().AssignableTo(dst.Type()) {
		return argjoy.NoMatch
	}
	dst.Set(src)
	return nil
}

func commonArgCodec(arg interface{}, vals []interface{}) error {
	switch v := arg.(type) {
	case *string:
		if b, ok := vals[0].([]byte); ok {
			*v = string(b)
			return nil
		}
	case *[]byte:
		if s, ok := vals[0].(string); ok {
			*v = []byte(s)
			return nil
		}
	case *models.Format:
		if s, ok := vals[0].(string); ok {
			f, err := models.ParseFormat(s)
			if err != nil {
				return err
			}
			*v = f
			return nil
		}
	}
	return argjoy.NoMatch
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// numericCodec converts between integer kinds, including named types like
// ProcessID that IntToInt does not know about.
func numericCodec(arg interface{}, vals []interface{}) error {
	dst := reflect.ValueOf(arg).Elem()
	src := reflect.ValueOf(vals[0])
	if !src.IsValid() || !isInteger(src.Kind()) || !isInteger(dst.Kind()) {
		return argjoy.NoMatch
	}
	dst.Set(src.Convert(dst.Type()))
	return nil
}
