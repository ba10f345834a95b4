package grpcbridge

import (
	"fmt"
	"math"
	"reflect"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/chazu/mvm/vm"
)

// ---------------------------------------------------------------------------
// Message conversion: Map <-> protobuf
// ---------------------------------------------------------------------------

// MapToMessage converts a Map keyed by field names (or JSON names) into a
// dynamic message of type md. Null converts to an empty message.
func MapToMessage(v vm.Value, md *desc.MessageDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	if v.IsNull() {
		return msg, nil
	}
	if v.Kind() != vm.KindMap {
		return nil, fmt.Errorf("%s: expected a map, got %s", md.GetFullyQualifiedName(), v.Kind())
	}
	var err error
	v.Map().Range(func(_ int, k, val vm.Value) bool {
		if k.Kind() != vm.KindStr {
			err = fmt.Errorf("%s: field names must be strings, got %s", md.GetFullyQualifiedName(), k.Kind())
			return false
		}
		name := k.Str()
		field := md.FindFieldByName(name)
		if field == nil {
			field = md.FindFieldByJSONName(name)
		}
		if field == nil {
			err = fmt.Errorf("%s has no field %s", md.GetFullyQualifiedName(), name)
			return false
		}
		if val.IsNull() {
			return true
		}
		var pv any
		if pv, err = toField(val, field); err != nil {
			err = fmt.Errorf("field %s: %w", name, err)
			return false
		}
		if err = msg.TrySetField(field, pv); err != nil {
			err = fmt.Errorf("setting field %s: %w", name, err)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func toField(v vm.Value, field *desc.FieldDescriptor) (any, error) {
	if field.IsMap() {
		if v.Kind() != vm.KindMap {
			return nil, fmt.Errorf("expected a map, got %s", v.Kind())
		}
		out := make(map[any]any, v.Map().Len())
		var err error
		v.Map().Range(func(_ int, k, val vm.Value) bool {
			var pk, pv any
			if pk, err = toScalar(k, field.GetMapKeyType()); err != nil {
				err = fmt.Errorf("key %s: %w", k, err)
				return false
			}
			if pv, err = toScalar(val, field.GetMapValueType()); err != nil {
				err = fmt.Errorf("value for %s: %w", k, err)
				return false
			}
			out[pk] = pv
			return true
		})
		return out, err
	}
	if field.IsRepeated() {
		var items []vm.Value
		switch v.Kind() {
		case vm.KindArray:
			items = v.Array().Items()
		case vm.KindVector:
			items = v.Vector().Items()
		default:
			return nil, fmt.Errorf("expected an array for a repeated field, got %s", v.Kind())
		}
		out := make([]any, len(items))
		for i, it := range items {
			pv, err := toScalar(it, field)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = pv
		}
		return out, nil
	}
	return toScalar(v, field)
}

// toScalar converts one element of field's type, ignoring repetition.
func toScalar(v vm.Value, field *desc.FieldDescriptor) (any, error) {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		if v.IsInteger() && v.Int() >= math.MinInt32 && v.Int() <= math.MaxInt32 {
			return int32(v.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		if v.IsInteger() {
			return v.Int(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		if v.IsInteger() && v.Int() >= 0 && v.Int() <= math.MaxUint32 {
			return uint32(v.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if v.IsInteger() && v.Int() >= 0 {
			return uint64(v.Int()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		if v.IsNumeric() {
			return float32(v.Float()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		if v.IsNumeric() {
			return v.Float(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if v.Kind() == vm.KindBool {
			return v.Bool(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if v.Kind() == vm.KindStr || v.Kind() == vm.KindChar {
			return v.String(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		if v.Kind() == vm.KindStr {
			return []byte(v.Str()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE,
		descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		if v.Kind() == vm.KindMap {
			return MapToMessage(v, field.GetMessageType())
		}
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if v.IsInteger() {
			return int32(v.Int()), nil
		}
		if v.Kind() == vm.KindStr {
			if ev := field.GetEnumType().FindValueByName(v.Str()); ev != nil {
				return ev.GetNumber(), nil
			}
			return nil, fmt.Errorf("%s has no value %s", field.GetEnumType().GetFullyQualifiedName(), v.Str())
		}
	}
	return nil, fmt.Errorf("cannot convert %s to %s", v.Kind(), typeName(field))
}

func typeName(field *desc.FieldDescriptor) string {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		return field.GetMessageType().GetFullyQualifiedName()
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		return field.GetEnumType().GetFullyQualifiedName()
	}
	return field.GetType().String()
}

// MessageToMap converts a message into a Map keyed by field name. Every
// known field is present: unset scalars carry their default, unset message
// fields are null, and only the populated member of a oneof appears.
func MessageToMap(msg *dynamic.Message) (vm.Value, error) {
	m := vm.NewMap()
	for _, field := range msg.GetKnownFields() {
		set := msg.HasField(field)
		if !set && field.GetOneOf() != nil {
			continue
		}
		var val vm.Value
		if !set && field.GetMessageType() != nil && !field.IsRepeated() {
			val = vm.Null
		} else {
			var err error
			if val, err = fromField(msg.GetField(field), field); err != nil {
				return vm.Null, fmt.Errorf("field %s: %w", field.GetName(), err)
			}
		}
		if err := m.Put(vm.NewStr(field.GetName()), val); err != nil {
			return vm.Null, err
		}
	}
	return vm.NewMapValue(m), nil
}

func fromField(x any, field *desc.FieldDescriptor) (vm.Value, error) {
	if x == nil && field.IsMap() {
		return vm.NewMapValue(vm.NewMap()), nil
	}
	if x == nil && field.IsRepeated() {
		return vm.NewArrayValue(vm.NewArray()), nil
	}
	if field.IsMap() {
		entries, ok := x.(map[any]any)
		if !ok {
			return vm.Null, fmt.Errorf("expected a map, got %T", x)
		}
		m := vm.NewMap()
		for k, v := range entries {
			kv, err := fromScalar(k, field.GetMapKeyType())
			if err != nil {
				return vm.Null, fmt.Errorf("map key: %w", err)
			}
			vv, err := fromScalar(v, field.GetMapValueType())
			if err != nil {
				return vm.Null, fmt.Errorf("map value: %w", err)
			}
			if err := m.Put(kv, vv); err != nil {
				return vm.Null, err
			}
		}
		return vm.NewMapValue(m), nil
	}
	if field.IsRepeated() {
		s := reflect.ValueOf(x)
		if s.Kind() != reflect.Slice {
			return vm.Null, fmt.Errorf("expected a list, got %T", x)
		}
		items := make([]vm.Value, s.Len())
		for i := range items {
			v, err := fromScalar(s.Index(i).Interface(), field)
			if err != nil {
				return vm.Null, fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = v
		}
		return vm.NewArrayValue(vm.NewArray(items...)), nil
	}
	return fromScalar(x, field)
}

// fromScalar converts one element of field's type. Unsigned 64-bit values
// beyond the range of a long become doubles.
func fromScalar(x any, field *desc.FieldDescriptor) (vm.Value, error) {
	switch x := x.(type) {
	case nil:
		return vm.Null, nil
	case int32:
		if field.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
			if ev := field.GetEnumType().FindValueByNumber(x); ev != nil {
				return vm.NewStr(ev.GetName()), nil
			}
		}
		return vm.NewInt(x), nil
	case int64:
		return vm.NewLong(x), nil
	case uint32:
		return vm.NewLong(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return vm.NewDouble(float64(x)), nil
		}
		return vm.NewLong(int64(x)), nil
	case float32:
		return vm.NewFloat(x), nil
	case float64:
		return vm.NewDouble(x), nil
	case bool:
		return vm.NewBool(x), nil
	case string:
		return vm.NewStr(x), nil
	case []byte:
		return vm.NewStr(string(x)), nil
	case *dynamic.Message:
		return MessageToMap(x)
	}
	return vm.Null, fmt.Errorf("unsupported value %T for %s", x, typeName(field))
}

// defaults returns the Map an empty message of type md converts to.
func defaults(md *desc.MessageDescriptor) (vm.Value, error) {
	return MessageToMap(dynamic.NewMessage(md))
}
