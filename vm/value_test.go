package vm

import (
	"math"
	"testing"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{True, true},
		{False, false},
		{NewInt(0), false},
		{NewInt(-3), true},
		{NewDouble(0), false},
		{NewDouble(0.5), true},
		{NewStr(""), false},
		{NewStr("x"), true},
		{NewArrayValue(NewArray()), true},
		{NewForeign(struct{}{}), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("Truthy(%s) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	arr := NewArrayValue(NewArray(NewInt(1)))
	tests := []struct {
		a, b Value
		want bool
	}{
		{NewByte(7), NewLong(7), true},
		{NewInt(1), NewDouble(1), true},
		{NewStr("a"), NewStr("a"), true},
		{NewStr("1"), NewInt(1), false},
		{Null, Null, true},
		{arr, arr, true},
		{arr, NewArrayValue(NewArray(NewInt(1))), false},
		{NewDouble(math.NaN()), NewDouble(math.NaN()), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConvertKinds(t *testing.T) {
	tests := []struct {
		in   Value
		k    Kind
		want string
		ok   bool
	}{
		{NewStr("0x10"), KindInt, "16", true},
		{NewStr("300"), KindByte, "", false},
		{NewLong(300), KindByte, "44", true},
		{NewInt(65), KindChar, "A", true},
		{NewStr("2.5"), KindDouble, "2.5", true},
		{NewInt(3), KindStr, "3", true},
		{NewStr("ab"), KindVector, "<a, b>", true},
		{NewStr("x"), KindLong, "", false},
		{Null, KindArray, "", false},
	}
	for _, tt := range tests {
		got, err := Convert(tt.in, tt.k)
		if tt.ok != (err == nil) {
			t.Errorf("Convert(%s, %s) error = %v, want ok=%v", tt.in, tt.k, err, tt.ok)
			continue
		}
		if tt.ok && got.String() != tt.want {
			t.Errorf("Convert(%s, %s) = %s, want %s", tt.in, tt.k, got, tt.want)
		}
	}
}

func TestArith(t *testing.T) {
	got, err := Arith(OpCalcAdd, NewStr("n="), NewInt(4))
	if err != nil || got.Str() != "n=4" {
		t.Errorf("str + int = %s, %v", got, err)
	}
	got, err = Arith(OpCalcAdd, NewInt(1), NewFloat(0.5))
	if err != nil || got.Kind() != KindFloat || got.Float() != 1.5 {
		t.Errorf("int + float = %s (%s), %v", got, got.Kind(), err)
	}
	got, err = Arith(OpCalcPwr, NewInt(2), NewInt(-1))
	if err != nil || got.Kind() != KindDouble || got.Float() != 0.5 {
		t.Errorf("2 ** -1 = %s, %v", got, err)
	}
	if _, err = Arith(OpCalcRem, NewLong(1), NewLong(0)); err == nil {
		t.Error("integer remainder by zero succeeded")
	}
	got, _ = Arith(OpCalcDiv, NewDouble(0), NewDouble(0))
	if !math.IsNaN(got.Float()) {
		t.Errorf("0.0 / 0.0 = %s, want NaN", got)
	}
	got, _ = Arith(OpCalcMul, NewShort(math.MaxInt16), NewShort(2))
	if got.Kind() != KindShort || got.Int() != -2 {
		t.Errorf("short overflow = %s (%s), want -2", got, got.Kind())
	}
	if _, err = Arith(OpCalcSub, NewStr("a"), NewInt(1)); err == nil {
		t.Error("str - int succeeded")
	}
}

func TestMapNormalizesKeys(t *testing.T) {
	m := NewMap()
	if err := m.Put(NewInt(1), NewStr("one")); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(NewStr("b"), NewStr("bee")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.Get(NewDouble(1))
	if err != nil || !ok || v.Str() != "one" {
		t.Errorf("Get(1.0) = %s, %v, %v", v, ok, err)
	}
	if err := m.Put(NewLong(1), NewStr("uno")); err != nil {
		t.Fatal(err)
	}
	keys := m.Keys()
	if len(keys) != 2 || keys[0].Int() != 1 || keys[1].Str() != "b" {
		t.Errorf("keys = %v, want insertion order [1 b]", keys)
	}
	if ok, _ := m.Delete(NewInt(1)); !ok {
		t.Error("Delete(1) found nothing")
	}
	if v, ok, _ := m.Get(NewStr("b")); !ok || v.Str() != "bee" {
		t.Error("entry lost after delete")
	}
	if err := m.Put(NewForeign([]int{1}), Null); err == nil {
		t.Error("uncomparable foreign key accepted")
	}
}

func TestScopeChain(t *testing.T) {
	outer := NewScope(nil)
	outer.Define("x", NewInt(1))
	inner := NewScope(outer)
	inner.Set("x", NewInt(2))
	inner.Set("y", NewInt(3))

	if v, _ := outer.Lookup("x"); v.Int() != 2 {
		t.Errorf("Set did not reach the defining scope: x = %s", v)
	}
	if _, ok := outer.Lookup("y"); ok {
		t.Error("new binding leaked outward")
	}
	flat := inner.Flatten()
	flat.Set("x", NewInt(9))
	if v, _ := outer.Lookup("x"); v.Int() != 2 {
		t.Error("writes to a flattened copy reached the original")
	}
	if !inner.Delete("x") {
		t.Error("Delete did not find x")
	}
	if _, ok := inner.Lookup("x"); ok {
		t.Error("x still visible after Delete")
	}
}
