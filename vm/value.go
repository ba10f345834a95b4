package vm

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindBool
	KindStr
	KindArray
	KindVector
	KindMap
	KindForeign
	KindClass
	KindMethod
	KindLambda
	KindError
)

var kindNames = [...]string{
	KindNull:    "null",
	KindByte:    "byte",
	KindChar:    "char",
	KindShort:   "short",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindBool:    "bool",
	KindStr:     "str",
	KindArray:   "array",
	KindVector:  "vector",
	KindMap:     "map",
	KindForeign: "foreign",
	KindClass:   "class",
	KindMethod:  "method",
	KindLambda:  "lambda",
	KindError:   "error",
}

// String returns the lowercase kind name used by op-is_a? and op-convert.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// KindByName looks up a kind by its lowercase name.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// Value is a tagged VM value. The zero Value is null.
//
// Primitives are stored inline in num (integers sign-extended, floats as IEEE
// bits). Strings live in str. Collections, refs, lambdas and errors are held
// by pointer in ref and are shared by every slot that holds the Value.
type Value struct {
	kind Kind
	num  uint64
	str  string
	ref  any
}

// Pre-defined values.
var (
	Null  = Value{}
	True  = Value{kind: KindBool, num: 1}
	False = Value{kind: KindBool}
)

func NewByte(b int8) Value      { return Value{kind: KindByte, num: uint64(int64(b))} }
func NewChar(c rune) Value      { return Value{kind: KindChar, num: uint64(int64(c))} }
func NewShort(s int16) Value    { return Value{kind: KindShort, num: uint64(int64(s))} }
func NewInt(i int32) Value      { return Value{kind: KindInt, num: uint64(int64(i))} }
func NewLong(l int64) Value     { return Value{kind: KindLong, num: uint64(l)} }
func NewFloat(f float32) Value  { return Value{kind: KindFloat, num: uint64(math.Float32bits(f))} }
func NewDouble(d float64) Value { return Value{kind: KindDouble, num: math.Float64bits(d)} }
func NewStr(s string) Value     { return Value{kind: KindStr, str: s} }

// NewBool returns True or False.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewArrayValue wraps a fixed-length array.
func NewArrayValue(a *Array) Value { return Value{kind: KindArray, ref: a} }

// NewVectorValue wraps a growable vector.
func NewVectorValue(v *Vector) Value { return Value{kind: KindVector, ref: v} }

// NewMapValue wraps an ordered map.
func NewMapValue(m *Map) Value { return Value{kind: KindMap, ref: m} }

// NewForeign wraps an opaque host object. A nil object becomes Null.
func NewForeign(x any) Value {
	if x == nil {
		return Null
	}
	return Value{kind: KindForeign, ref: x}
}

func NewClassValue(c *ClassRef) Value   { return Value{kind: KindClass, ref: c} }
func NewMethodValue(m *MethodRef) Value { return Value{kind: KindMethod, ref: m} }
func NewLambdaValue(l *Lambda) Value    { return Value{kind: KindLambda, ref: l} }
func NewErrorValue(e *Error) Value      { return Value{kind: KindError, ref: e} }

// newInteger builds an integer of kind k, truncating x to the kind's width.
func newInteger(k Kind, x int64) Value {
	switch k {
	case KindByte:
		return NewByte(int8(x))
	case KindShort:
		return NewShort(int16(x))
	case KindInt, KindChar:
		return NewInt(int32(x))
	default:
		return NewLong(x)
	}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// IsInteger reports whether v is a byte, char, short, int or long.
func (v Value) IsInteger() bool {
	switch v.kind {
	case KindByte, KindChar, KindShort, KindInt, KindLong:
		return true
	}
	return false
}

// IsFloating reports whether v is a float or double.
func (v Value) IsFloating() bool { return v.kind == KindFloat || v.kind == KindDouble }

func (v Value) IsNumeric() bool { return v.IsInteger() || v.IsFloating() }

// Int returns v as an int64. Floats truncate toward zero; bools are 0 or 1.
func (v Value) Int() int64 {
	switch v.kind {
	case KindFloat, KindDouble:
		return int64(v.Float())
	case KindBool:
		return int64(v.num)
	}
	return int64(v.num)
}

// Float returns v as a float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.num)))
	case KindDouble:
		return math.Float64frombits(v.num)
	}
	return float64(int64(v.num))
}

func (v Value) Bool() bool   { return v.kind == KindBool && v.num != 0 }
func (v Value) Char() rune   { return rune(int64(v.num)) }
func (v Value) Str() string  { return v.str }
func (v Value) Foreign() any { return v.ref }

func (v Value) Array() *Array {
	a, _ := v.ref.(*Array)
	return a
}

func (v Value) Vector() *Vector {
	vec, _ := v.ref.(*Vector)
	return vec
}

func (v Value) Map() *Map {
	m, _ := v.ref.(*Map)
	return m
}

func (v Value) Class() *ClassRef {
	c, _ := v.ref.(*ClassRef)
	return c
}

func (v Value) Method() *MethodRef {
	m, _ := v.ref.(*MethodRef)
	return m
}

func (v Value) Lambda() *Lambda {
	l, _ := v.ref.(*Lambda)
	return l
}

func (v Value) Err() *Error {
	e, _ := v.ref.(*Error)
	return e
}

// Truthy applies the conditional-instruction rule: non-zero numbers,
// non-empty strings, non-null references and true are truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.num != 0
	case KindFloat, KindDouble:
		return v.Float() != 0
	case KindByte, KindChar, KindShort, KindInt, KindLong:
		return v.num != 0
	case KindStr:
		return v.str != ""
	}
	return v.ref != nil
}

// String renders v for display (get-stack, traces, the CLI).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindChar:
		return string(v.Char())
	case KindByte, KindShort, KindInt, KindLong:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case KindStr:
		return v.str
	case KindArray:
		return joinValues("[", v.Array().Items(), "]")
	case KindVector:
		return joinValues("<", v.Vector().Items(), ">")
	case KindMap:
		var b strings.Builder
		b.WriteByte('{')
		v.Map().Range(func(i int, k, val Value) bool {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k.String())
			b.WriteString(": ")
			b.WriteString(val.String())
			return true
		})
		b.WriteByte('}')
		return b.String()
	case KindClass:
		return "class " + v.Class().Name
	case KindMethod:
		return "method " + v.Method().Name
	case KindLambda:
		if l := v.Lambda(); l.Name != "" {
			return "lambda " + l.Name
		}
		return "lambda"
	case KindError:
		return v.Err().Error()
	}
	return fmt.Sprint(v.ref)
}

func joinValues(open string, items []Value, close string) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return open + strings.Join(parts, ", ") + close
}

// Equal compares two values. Numbers compare by value across widths,
// strings by content, and references by identity.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.IsInteger() && b.IsInteger() {
			return a.Int() == b.Int()
		}
		return a.Float() == b.Float()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.num == b.num
	case KindStr:
		return a.str == b.str
	case KindClass:
		return a.Class().Name == b.Class().Name
	case KindForeign:
		ta, tb := reflect.TypeOf(a.ref), reflect.TypeOf(b.ref)
		if ta != tb || !ta.Comparable() {
			return false
		}
		return a.ref == b.ref
	}
	return a.ref == b.ref
}

// compareValues orders two numbers or two strings. It returns -1, 0 or 1,
// or unordered when either operand is NaN.
func compareValues(a, b Value) (int, error) {
	switch {
	case a.IsInteger() && b.IsInteger():
		x, y := a.Int(), b.Int()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.IsNumeric() && b.IsNumeric():
		x, y := a.Float(), b.Float()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		case x == y:
			return 0, nil
		}
		return unordered, nil
	case a.kind == KindStr && b.kind == KindStr:
		return strings.Compare(a.str, b.str), nil
	}
	return 0, NewError(TypeError, "cannot compare %s with %s", a.kind, b.kind)
}

const unordered = 2
