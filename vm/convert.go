package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Convert coerces v to kind k. It backs the typed new-* instructions and
// op-convert; failures are TypeErrors.
func Convert(v Value, k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	switch k {
	case KindByte, KindShort, KindInt, KindLong:
		return toInteger(v, k)
	case KindChar:
		switch {
		case v.IsNumeric():
			return NewChar(rune(v.Int())), nil
		case v.kind == KindStr && utf8.RuneCountInString(v.str) == 1:
			r, _ := utf8.DecodeRuneInString(v.str)
			return NewChar(r), nil
		}
	case KindFloat, KindDouble:
		f, ok := toFloat(v)
		if !ok {
			break
		}
		if k == KindFloat {
			return NewFloat(float32(f)), nil
		}
		return NewDouble(f), nil
	case KindBool:
		return NewBool(v.Truthy()), nil
	case KindStr:
		return NewStr(v.String()), nil
	case KindArray:
		if items, ok := sequenceItems(v); ok {
			return NewArrayValue(NewArray(items...)), nil
		}
	case KindVector:
		if items, ok := sequenceItems(v); ok {
			return NewVectorValue(NewVector(items...)), nil
		}
	}
	return Null, NewError(TypeError, "cannot convert %s to %s", v.kind, k)
}

// ParseNumber reads a string as a long, falling back to a double.
func ParseNumber(v Value) (Value, error) {
	if v.IsNumeric() {
		return v, nil
	}
	if v.kind != KindStr {
		return Null, NewError(TypeError, "cannot parse %s as a number", v.kind)
	}
	s := strings.TrimSpace(v.str)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewLong(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NewDouble(f), nil
	}
	return Null, NewError(TypeError, "%q is not a number", v.str)
}

var intBits = map[Kind]int{KindByte: 8, KindShort: 16, KindInt: 32, KindLong: 64}

func toInteger(v Value, k Kind) (Value, error) {
	switch {
	case v.IsNumeric(), v.kind == KindBool:
		return newInteger(k, v.Int()), nil
	case v.kind == KindStr:
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 0, intBits[k])
		if err != nil {
			return Null, NewError(TypeError, "%q is not a valid %s", v.str, k)
		}
		return newInteger(k, n), nil
	}
	return Null, NewError(TypeError, "cannot convert %s to %s", v.kind, k)
}

func toFloat(v Value) (float64, bool) {
	switch {
	case v.IsNumeric():
		return v.Float(), true
	case v.kind == KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	}
	return 0, false
}

func sequenceItems(v Value) ([]Value, bool) {
	switch v.kind {
	case KindArray:
		return v.Array().Items(), true
	case KindVector:
		return v.Vector().Items(), true
	case KindStr:
		items := make([]Value, 0, len(v.str))
		for _, r := range v.str {
			items = append(items, NewChar(r))
		}
		return items, true
	}
	return nil, false
}
