package hostbridge

import (
	"context"
	"fmt"
	"reflect"

	"github.com/chazu/mvm/vm"
)

var (
	valueType    = reflect.TypeOf(vm.Value{})
	callableType = reflect.TypeOf(vm.Callable(nil))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	anyType      = reflect.TypeOf((*any)(nil)).Elem()
)

// ToGo converts v to a Go value of type t.
func ToGo(v vm.Value, t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		return reflect.ValueOf(v), nil
	}
	if v.IsNull() {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot pass null as %s", t)
	}
	if v.Kind() == vm.KindForeign {
		x := reflect.ValueOf(v.Foreign())
		if x.IsValid() && x.Type().AssignableTo(t) {
			return x, nil
		}
	}
	if t == callableType && v.Kind() == vm.KindLambda {
		l := v.Lambda()
		fn := vm.Callable(func(args []vm.Value) (vm.Value, error) {
			return l.Call(context.Background(), args...)
		})
		return reflect.ValueOf(fn), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		if v.Kind() == vm.KindBool {
			return reflect.ValueOf(v.Bool()).Convert(t), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.IsInteger() {
			x := reflect.New(t).Elem()
			if x.OverflowInt(v.Int()) {
				return reflect.Value{}, fmt.Errorf("%s overflows %s", v, t)
			}
			x.SetInt(v.Int())
			return x, nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.IsInteger() && v.Int() >= 0 {
			x := reflect.New(t).Elem()
			if x.OverflowUint(uint64(v.Int())) {
				return reflect.Value{}, fmt.Errorf("%s overflows %s", v, t)
			}
			x.SetUint(uint64(v.Int()))
			return x, nil
		}
	case reflect.Float32, reflect.Float64:
		if v.IsNumeric() {
			return reflect.ValueOf(v.Float()).Convert(t), nil
		}
	case reflect.String:
		if v.Kind() == vm.KindStr || v.Kind() == vm.KindChar {
			return reflect.ValueOf(v.String()).Convert(t), nil
		}
	case reflect.Slice:
		items, ok := sequence(v)
		if !ok {
			break
		}
		s := reflect.MakeSlice(t, len(items), len(items))
		for i, it := range items {
			e, err := ToGo(it, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			s.Index(i).Set(e)
		}
		return s, nil
	case reflect.Map:
		if v.Kind() != vm.KindMap {
			break
		}
		m := reflect.MakeMapWithSize(t, v.Map().Len())
		var err error
		v.Map().Range(func(_ int, k, val vm.Value) bool {
			var gk, gv reflect.Value
			if gk, err = ToGo(k, t.Key()); err != nil {
				return false
			}
			if gv, err = ToGo(val, t.Elem()); err != nil {
				return false
			}
			m.SetMapIndex(gk, gv)
			return true
		})
		if err != nil {
			return reflect.Value{}, err
		}
		return m, nil
	case reflect.Interface:
		if t == anyType || t.NumMethod() == 0 {
			x := reflect.ValueOf(natural(v))
			if !x.IsValid() {
				return reflect.Zero(t), nil
			}
			return x, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot pass %s as %s", v.Kind(), t)
}

// sequence returns the elements of an Array or Vector.
func sequence(v vm.Value) ([]vm.Value, bool) {
	switch v.Kind() {
	case vm.KindArray:
		return v.Array().Items(), true
	case vm.KindVector:
		return v.Vector().Items(), true
	}
	return nil, false
}

// natural maps a value to the Go type a function taking any most likely
// expects.
func natural(v vm.Value) any {
	switch v.Kind() {
	case vm.KindNull:
		return nil
	case vm.KindBool:
		return v.Bool()
	case vm.KindByte:
		return int8(v.Int())
	case vm.KindChar:
		return v.Char()
	case vm.KindShort:
		return int16(v.Int())
	case vm.KindInt:
		return int32(v.Int())
	case vm.KindLong:
		return v.Int()
	case vm.KindFloat:
		return float32(v.Float())
	case vm.KindDouble:
		return v.Float()
	case vm.KindStr:
		return v.Str()
	case vm.KindArray, vm.KindVector:
		items, _ := sequence(v)
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = natural(it)
		}
		return out
	case vm.KindMap:
		out := make(map[any]any, v.Map().Len())
		v.Map().Range(func(_ int, k, val vm.Value) bool {
			key := natural(k)
			if key != nil && !reflect.TypeOf(key).Comparable() {
				key = k.String()
			}
			out[key] = natural(val)
			return true
		})
		return out
	case vm.KindForeign:
		return v.Foreign()
	}
	return v
}

// FromGo converts a Go value to a VM value. Types without a VM counterpart
// become foreign references.
func FromGo(x reflect.Value) vm.Value {
	if !x.IsValid() {
		return vm.Null
	}
	if x.Type() == valueType {
		return x.Interface().(vm.Value)
	}
	switch x.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func:
		if x.IsNil() {
			return vm.Null
		}
	}
	switch x.Kind() {
	case reflect.Interface:
		return FromGo(x.Elem())
	case reflect.Bool:
		return vm.NewBool(x.Bool())
	case reflect.Int8:
		return vm.NewByte(int8(x.Int()))
	case reflect.Int16:
		return vm.NewShort(int16(x.Int()))
	case reflect.Int32:
		return vm.NewInt(int32(x.Int()))
	case reflect.Int, reflect.Int64:
		return vm.NewLong(x.Int())
	case reflect.Uint8, reflect.Uint16:
		return vm.NewInt(int32(x.Uint()))
	case reflect.Uint, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return vm.NewLong(int64(x.Uint()))
	case reflect.Float32:
		return vm.NewFloat(float32(x.Float()))
	case reflect.Float64:
		return vm.NewDouble(x.Float())
	case reflect.String:
		return vm.NewStr(x.String())
	case reflect.Slice, reflect.Array:
		items := make([]vm.Value, x.Len())
		for i := range items {
			items[i] = FromGo(x.Index(i))
		}
		return vm.NewArrayValue(vm.NewArray(items...))
	case reflect.Map:
		m := vm.NewMap()
		iter := x.MapRange()
		for iter.Next() {
			if err := m.Put(FromGo(iter.Key()), FromGo(iter.Value())); err != nil {
				return vm.NewForeign(x.Interface())
			}
		}
		return vm.NewMapValue(m)
	}
	if x.CanInterface() {
		if err, ok := x.Interface().(error); ok {
			return vm.NewErrorValue(vm.AsError(err))
		}
		return vm.NewForeign(x.Interface())
	}
	return vm.Null
}
