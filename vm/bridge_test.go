package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type point struct{ x, y int64 }

type implObject struct {
	iface   string
	methods map[string]Callable
}

// fakeBridge exposes a Point class and a Greeter interface.
type fakeBridge struct{}

func (b fakeBridge) ResolveClass(name string) (*ClassRef, error) {
	switch name {
	case "Point", "Greeter":
		return NewClassRef(b, name, nil), nil
	}
	return nil, fmt.Errorf("no class %s", name)
}

func (b fakeBridge) ResolveMethod(target Value, id string) (*MethodRef, error) {
	switch {
	case target.Kind() == KindClass && id == "origin":
		return NewMethodRef(b, target.Class(), id, true, nil), nil
	case target.Kind() == KindForeign && id == "sum":
		return NewMethodRef(b, nil, id, false, nil), nil
	}
	return nil, fmt.Errorf("no method %s", id)
}

func (b fakeBridge) ResolveField(_ Value, id string) (*FieldRef, error) {
	if id != "x" && id != "y" {
		return nil, fmt.Errorf("no field %s", id)
	}
	return NewFieldRef(b, id, nil), nil
}

func (fakeBridge) Invoke(m *MethodRef, recv Value, _ []Value) (Value, error) {
	switch m.Name {
	case "origin":
		return NewForeign(&point{}), nil
	case "sum":
		p := recv.Foreign().(*point)
		return NewLong(p.x + p.y), nil
	}
	return Null, errors.New("unreachable")
}

func (fakeBridge) Construct(_ *ClassRef, args []Value) (Value, error) {
	if len(args) != 2 {
		return Null, fmt.Errorf("Point takes 2 arguments, got %d", len(args))
	}
	return NewForeign(&point{args[0].Int(), args[1].Int()}), nil
}

func (fakeBridge) GetField(f *FieldRef, target Value) (Value, error) {
	p := target.Foreign().(*point)
	if f.Name == "x" {
		return NewLong(p.x), nil
	}
	return NewLong(p.y), nil
}

func (fakeBridge) SetField(f *FieldRef, target Value, v Value) error {
	p := target.Foreign().(*point)
	if f.Name == "x" {
		p.x = v.Int()
	} else {
		p.y = v.Int()
	}
	return nil
}

func (fakeBridge) IsAccessible(Value, string) (bool, error) { return true, nil }
func (fakeBridge) SetAccessible(Value, string, bool) error  { return nil }

func (fakeBridge) IsInstance(v Value, c *ClassRef) (bool, error) {
	_, ok := v.Foreign().(*point)
	return ok && c.Name == "Point", nil
}

func (fakeBridge) ImplementInterface(c *ClassRef, methods map[string]Callable) (Value, error) {
	return NewForeign(&implObject{iface: c.Name, methods: methods}), nil
}

func runBridged(t *testing.T, b Bridge, code ...Instruction) *Result {
	t.Helper()
	res, err := NewVM(WithBridge(b)).Run(context.Background(), NewISeq(code...), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestForeignObjects(t *testing.T) {
	res := runBridged(t, fakeBridge{},
		Ins(OpNew, Sym("p"), Sym("Point"), i32(1), i32(2)),
		Ins(OpCall, Var("p"), Sym("sum")),
		Ins(OpMove, Sym("sum")),
		Ins(OpMoveField, Var("p"), Sym("y"), i32(10)),
		Ins(OpGetField, Var("p"), Sym("y")),
		Ins(OpMove, Sym("y")),
		Ins(OpIsA, Sym("Point"), Var("p")),
		Ins(OpMove, Sym("isPoint")),
		Ins(OpCallStatic, Sym("Point"), Sym("origin")),
		Ins(OpCallX, Sym("sum")),
	)
	wantInt(t, res.Vars["sum"], 3)
	wantInt(t, res.Vars["y"], 10)
	if !res.Vars["isPoint"].Bool() {
		t.Error("op-is_a? 'Point = false")
	}
	wantInt(t, res.Value, 0)
}

func TestBridgeFailureIsRuntimeError(t *testing.T) {
	res := runBridged(t, fakeBridge{},
		proc("bad", 1),
		Ins(OpCallStatic, Sym("Point"), Sym("missing")),
		Ins(OpPCall, Var("bad")),
	)
	if res.Error == nil || res.Error.Kind != ForeignError {
		t.Fatalf("error register = %v, want ForeignError", res.Error)
	}

	_, err := NewVM().Run(context.Background(), NewISeq(Ins(OpNew, Sym("Thing"))), nil)
	if err == nil || IsFault(err) {
		t.Fatalf("NoBridge construct: got %v, want runtime error", err)
	}
}

func TestPCallCapturesForeignFailure(t *testing.T) {
	res := runBridged(t, fakeBridge{},
		Ins(OpNew, Sym("p"), Sym("Point"), i32(1), i32(2)),
		Ins(OpPCall, Var("p"), Sym("nope")),
		Ins(OpJumpIfErr, Target(4)),
		Ins(OpNewInt, i32(1)),
	)
	if res.Error == nil {
		t.Fatal("pcall did not capture the failed method lookup")
	}
	if !res.Value.IsNull() {
		t.Errorf("accumulator = %s, want null", res.Value)
	}
}

func TestImplSingleMethod(t *testing.T) {
	res := runBridged(t, fakeBridge{},
		Ins(OpImpl, Sym("Greeter"), Sym("greet"), params("name"), i32(2)),
		Ins(OpStrNew, str("hi ")),
		Ins(OpStrCat, Var("name")),
		Ins(OpMove, Sym("g")),
	)
	obj, ok := res.Vars["g"].Foreign().(*implObject)
	if !ok || obj.iface != "Greeter" {
		t.Fatalf("impl produced %s", res.Vars["g"])
	}
	v, err := obj.methods["greet"]([]Value{NewStr("bob")})
	if err != nil || v.Str() != "hi bob" {
		t.Fatalf("greet = %s, %v", v, err)
	}
}

func TestImplFromMap(t *testing.T) {
	res := runBridged(t, fakeBridge{},
		Ins(OpMapNew, Sym("m")),
		proc("answer", 1),
		Ins(OpNewInt, i32(42)),
		Ins(OpMapAdd, Var("m"), str("answer"), Var("answer")),
		Ins(OpGet, Var("m")),
		Ins(OpImpl, Sym("Greeter")),
	)
	obj, ok := res.Value.Foreign().(*implObject)
	if !ok {
		t.Fatalf("impl produced %s", res.Value)
	}
	v, err := obj.methods["answer"](nil)
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	wantInt(t, v, 42)
}

func TestChainRoutesToOwner(t *testing.T) {
	b := Chain(NoBridge{}, fakeBridge{})
	res := runBridged(t, b,
		Ins(OpNew, Sym("p"), Sym("Point"), i32(4), i32(5)),
		Ins(OpGetClass, Sym("Point")),
		Ins(OpGetMethod, Sym("Point"), Sym("origin")),
		Ins(OpCallStatic),
	)
	if _, ok := res.Value.Foreign().(*point); !ok {
		t.Fatalf("call-static through a method ref gave %s", res.Value)
	}

	_, err := b.ResolveClass("Nope")
	if err == nil || !errors.Is(err, errNoRuntime) {
		t.Errorf("chain error = %v, want it to wrap every bridge's failure", err)
	}
}
