package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/chazu/mvm/vm"
)

func sample() (*vm.ISeq, *vm.DebugSymbols) {
	seq := vm.NewISeq(
		vm.Ins(vm.OpNewArray, vm.Sym("xs"),
			vm.Lit(vm.NewByte(-1)), vm.Lit(vm.NewChar('é')), vm.Lit(vm.NewShort(300)),
			vm.Lit(vm.NewLong(math.MaxInt64)), vm.Lit(vm.NewFloat(1.25)),
			vm.Lit(vm.NewDouble(math.NaN())), vm.Lit(vm.True), vm.Lit(vm.Null),
			vm.Lit(vm.NewArrayValue(vm.NewArray(vm.NewStr("nested"))))),
		vm.Ins(vm.OpProc, vm.Lit(vm.NewStr("f")), vm.Lit(vm.NewArrayValue(vm.NewArray(vm.NewStr("a")))), vm.Lit(vm.NewInt(1))),
		vm.Ins(vm.OpGet, vm.Var("a")),
		vm.Ins(vm.OpJump, vm.Target(4)),
	)
	seq.Labels["end"] = 4
	syms := vm.NewDebugSymbols()
	syms.Set(0, vm.Symbol{Name: "main", Line: 1})
	syms.Set(2, vm.Symbol{Name: "f", Line: 3})
	return seq, syms
}

func TestRoundTrip(t *testing.T) {
	seq, syms := sample()
	data, err := Dump(seq, syms)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !bytes.HasPrefix(data, Magic) {
		t.Fatalf("encoded program lacks the magic: % x", data[:8])
	}
	got, gotSyms, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(seq) {
		t.Error("instruction sequence changed in the round trip")
	}
	if !gotSyms.Equal(syms) {
		t.Errorf("symbols = %v, want %v", gotSyms.Entries, syms.Entries)
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	seq, syms := sample()
	seq.Labels["a"] = 0
	seq.Labels["z"] = 2
	first, err := Dump(seq, syms)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Dump(seq, syms)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("two dumps of one program differ")
		}
	}
}

func TestLoadWithoutSymbols(t *testing.T) {
	seq, _ := sample()
	data, err := Dump(seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, syms, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if syms != nil {
		t.Errorf("symbols = %v, want none", syms.Entries)
	}
}

func TestLoadRejects(t *testing.T) {
	if _, _, err := Load([]byte("new-int 1\n")); !errors.Is(err, ErrNotProgram) {
		t.Errorf("text input: err = %v, want ErrNotProgram", err)
	}
	if _, _, err := Load(append(append([]byte{}, Magic...), 0xff, 0x00)); err == nil {
		t.Error("garbage after the magic loaded")
	}

	// A structurally invalid program is rejected at load time.
	bad := vm.NewISeq(vm.Ins(vm.OpGet))
	data, err := Dump(bad, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(data); err == nil || !vm.IsFault(err) {
		t.Errorf("invalid program: err = %v, want a fault", err)
	}
}

func TestDumpRejectsRuntimeValues(t *testing.T) {
	seq := vm.NewISeq(vm.Ins(vm.OpGet, vm.Lit(vm.NewMapValue(vm.NewMap()))))
	if _, err := Dump(seq, nil); err == nil {
		t.Error("map literal encoded")
	}
}
