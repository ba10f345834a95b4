package vm

import "math"

// rank orders numeric kinds by width. Char takes part in arithmetic as int.
var rank = map[Kind]int{
	KindByte:   1,
	KindShort:  2,
	KindChar:   3,
	KindInt:    3,
	KindLong:   4,
	KindFloat:  5,
	KindDouble: 6,
}

// widen returns the result kind for a binary numeric operation.
func widen(a, b Kind) Kind {
	k := a
	if rank[b] > rank[a] {
		k = b
	}
	if k == KindChar {
		return KindInt
	}
	return k
}

// Arith applies a binary calc opcode. Integer results wrap at the width of
// the wider operand; integer division and remainder by zero are
// ArithmeticErrors; floating operations follow IEEE 754.
func Arith(op OpCode, a, b Value) (Value, error) {
	switch op {
	case OpCalcAnd:
		return NewBool(a.Truthy() && b.Truthy()), nil
	case OpCalcOr:
		return NewBool(a.Truthy() || b.Truthy()), nil
	case OpCalcXor:
		return NewBool(a.Truthy() != b.Truthy()), nil
	case OpCalcBAnd, OpCalcBOr, OpCalcBXor:
		return bitwise(op, a, b)
	case OpCalcAdd:
		if a.kind == KindStr || b.kind == KindStr {
			return NewStr(a.String() + b.String()), nil
		}
	}

	if !a.IsNumeric() || !b.IsNumeric() {
		return Null, NewError(TypeError, "%s on %s and %s", op, a.kind, b.kind)
	}
	k := widen(a.kind, b.kind)
	if k == KindFloat || k == KindDouble {
		r := floatArith(op, a.Float(), b.Float())
		if k == KindFloat {
			return NewFloat(float32(r)), nil
		}
		return NewDouble(r), nil
	}

	x, y := a.Int(), b.Int()
	switch op {
	case OpCalcAdd:
		return newInteger(k, x+y), nil
	case OpCalcSub:
		return newInteger(k, x-y), nil
	case OpCalcMul:
		return newInteger(k, x*y), nil
	case OpCalcDiv:
		if y == 0 {
			return Null, NewError(ArithmeticError, "integer division by zero")
		}
		return newInteger(k, x/y), nil
	case OpCalcRem:
		if y == 0 {
			return Null, NewError(ArithmeticError, "integer remainder by zero")
		}
		return newInteger(k, x%y), nil
	case OpCalcPwr:
		if y < 0 {
			return NewDouble(math.Pow(float64(x), float64(y))), nil
		}
		return newInteger(k, ipow(x, y)), nil
	}
	return Null, NewError(TypeError, "%s is not a binary arithmetic operation", op)
}

func floatArith(op OpCode, x, y float64) float64 {
	switch op {
	case OpCalcAdd:
		return x + y
	case OpCalcSub:
		return x - y
	case OpCalcMul:
		return x * y
	case OpCalcDiv:
		return x / y
	case OpCalcRem:
		return math.Mod(x, y)
	case OpCalcPwr:
		return math.Pow(x, y)
	}
	return math.NaN()
}

// ipow computes x**y by squaring; overflow wraps like the other integer ops.
func ipow(x, y int64) int64 {
	r := int64(1)
	for y > 0 {
		if y&1 == 1 {
			r *= x
		}
		x *= x
		y >>= 1
	}
	return r
}

func bitwise(op OpCode, a, b Value) (Value, error) {
	if a.kind == KindBool && b.kind == KindBool {
		x, y := a.Bool(), b.Bool()
		switch op {
		case OpCalcBAnd:
			return NewBool(x && y), nil
		case OpCalcBOr:
			return NewBool(x || y), nil
		}
		return NewBool(x != y), nil
	}
	if !a.IsInteger() || !b.IsInteger() {
		return Null, NewError(TypeError, "%s on %s and %s", op, a.kind, b.kind)
	}
	k := widen(a.kind, b.kind)
	x, y := a.Int(), b.Int()
	switch op {
	case OpCalcBAnd:
		return newInteger(k, x&y), nil
	case OpCalcBOr:
		return newInteger(k, x|y), nil
	}
	return newInteger(k, x^y), nil
}

// Unary applies calc-neg, calc-not or calc-bnot.
func Unary(op OpCode, v Value) (Value, error) {
	switch op {
	case OpCalcNot:
		return NewBool(!v.Truthy()), nil
	case OpCalcNeg:
		switch {
		case v.kind == KindFloat:
			return NewFloat(-float32(v.Float())), nil
		case v.kind == KindDouble:
			return NewDouble(-v.Float()), nil
		case v.IsInteger():
			return newInteger(widen(v.kind, v.kind), -v.Int()), nil
		}
	case OpCalcBNot:
		switch {
		case v.kind == KindBool:
			return NewBool(!v.Bool()), nil
		case v.IsInteger():
			return newInteger(widen(v.kind, v.kind), ^v.Int()), nil
		}
	}
	return Null, NewError(TypeError, "%s on %s", op, v.kind)
}
