package vm

import (
	"errors"
	"testing"
)

func TestResolveIdempotent(t *testing.T) {
	seq := NewISeq(
		Ins(OpNewInt, i32(0)),
		Ins(OpJumpIfNot, LabelRef("end")),
		Ins(OpJump, LabelRef("top")),
	)
	seq.Labels["top"] = 0
	seq.Labels["end"] = 3

	if err := seq.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	once := &ISeq{Code: cloneCode(seq.Code, 0), Labels: map[string]int{"top": 0, "end": 3}}
	if err := seq.Resolve(); err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if !seq.Equal(once) {
		t.Fatal("resolving twice changed the sequence")
	}
	if got := seq.Code[1].Args[0]; got.Kind != OperandTarget || got.Target != 3 {
		t.Errorf("jumpifnot operand = %+v, want target 3", got)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		seq  *ISeq
	}{
		{"undefined label", NewISeq(Ins(OpJump, LabelRef("nowhere")))},
		{"target out of range", NewISeq(Ins(OpJump, Target(7)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seq.Resolve()
			if !IsFault(err) {
				t.Fatalf("expected fault, got %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		ok   bool
	}{
		{"balanced scopes", []Instruction{Ins(OpScope), Ins(OpScope), Ins(OpScopeEnd), Ins(OpScopeEnd)}, true},
		{"unbalanced scope-end", []Instruction{Ins(OpScope), Ins(OpScopeEnd), Ins(OpScopeEnd)}, false},
		{"scope-end in lambda body", []Instruction{Ins(OpScope), proc("", 1), Ins(OpScopeEnd), Ins(OpScopeEnd)}, false},
		{"too few operands", []Instruction{Ins(OpGet)}, false},
		{"too many operands", []Instruction{Ins(OpLeave, i32(1))}, false},
		{"target on non-jump", []Instruction{Ins(OpGet, Target(0))}, false},
		{"unresolved label", []Instruction{Ins(OpNewInt, i32(1)), Ins(OpJump, LabelRef("x"))}, false},
		{"body overrun", []Instruction{proc("", 3), Ins(OpNewInt, i32(1))}, false},
		{"jump into lambda body", []Instruction{Ins(OpJump, Target(2)), proc("", 1), Ins(OpLeave)}, false},
		{"jump out of lambda body", []Instruction{proc("", 1), Ins(OpJump, Target(0))}, false},
		{"jump to body end", []Instruction{proc("", 2), Ins(OpJump, Target(3)), Ins(OpLeave)}, true},
		{"impl with two operands", []Instruction{Ins(OpImpl, Sym("I"), Sym("m"))}, false},
		{"unknown opcode", []Instruction{{Op: OpCode(0xF0)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewISeq(tt.code...).Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if !tt.ok && !IsFault(err) {
				t.Fatalf("expected fault, got %v", err)
			}
		})
	}
}

func TestChunks(t *testing.T) {
	seq := NewISeq(
		Ins(OpNewInt, i32(1)),
		proc("outer", 3),
		proc("inner", 1),
		Ins(OpGet, Var("x")),
		Ins(OpReturn),
		Ins(OpLeave),
	)
	chunks, owner, err := seq.Chunks()
	if err != nil {
		t.Fatalf("Chunks failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if c := chunks[1]; c.Start != 2 || c.End != 5 || c.Parent != 0 {
		t.Errorf("outer chunk = %+v", c)
	}
	if c := chunks[2]; c.Start != 3 || c.End != 4 || c.Parent != 1 {
		t.Errorf("inner chunk = %+v", c)
	}
	want := []int{0, 0, 1, 2, 1, 0}
	for i, w := range want {
		if owner[i] != w {
			t.Errorf("owner[%d] = %d, want %d", i, owner[i], w)
		}
	}
}

func TestConcat(t *testing.T) {
	a := NewISeq(
		Ins(OpNewInt, Sym("n"), i32(1)),
		Ins(OpJump, LabelRef("done")),
	)
	a.Labels["done"] = 2
	b := NewISeq(
		Ins(OpGet, Var("n")),
		Ins(OpJumpIf, LabelRef("done")),
		Ins(OpNewInt, i32(0)),
	)
	b.Labels["done"] = 3
	sa := NewDebugSymbols()
	sa.Set(0, Symbol{Name: "a", Line: 1})
	sb := NewDebugSymbols()
	sb.Set(0, Symbol{Name: "b", Line: 1})

	out, syms, err := Concat(a, b, sa, sb)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if out.Len() != 5 {
		t.Fatalf("len = %d, want 5", out.Len())
	}
	if got := out.Code[1].Args[0].Target; got != 2 {
		t.Errorf("a's jump target = %d, want 2 (start of b)", got)
	}
	if got := out.Code[3].Args[0].Target; got != 5 {
		t.Errorf("b's jump target = %d, want 5", got)
	}
	if out.Labels["done"] != 2 || out.Labels["done.1"] != 5 {
		t.Errorf("labels = %v", out.Labels)
	}
	if s, ok := syms.Lookup(2); !ok || s.Name != "b" {
		t.Errorf("symbol at 2 = %v, want b", s)
	}
	// b keeps its own targets
	if b.Code[1].Args[0].Target != 3 {
		t.Error("Concat modified its input")
	}
}

func TestConcatRejectsBadTargets(t *testing.T) {
	a := NewISeq(Ins(OpJump, Target(9)))
	_, _, err := Concat(a, NewISeq(), nil, nil)
	if !IsFault(err) {
		t.Fatalf("expected fault, got %v", err)
	}
	var f *Fault
	if !errors.As(err, &f) || f.Index != 0 {
		t.Errorf("fault = %v, want index 0", f)
	}
}

func TestDebugSymbols(t *testing.T) {
	var none *DebugSymbols
	if _, ok := none.Lookup(0); ok {
		t.Error("nil table returned a symbol")
	}
	d := NewDebugSymbols()
	d.Set(4, Symbol{Name: "loop", Line: 9})
	d.Set(1, Symbol{Name: "main", Line: 2})
	if got := d.Indices(); len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Errorf("Indices = %v", got)
	}
	e := NewDebugSymbols()
	e.Set(1, Symbol{Name: "main", Line: 2})
	if d.Equal(e) {
		t.Error("tables with different entries compared equal")
	}
	e.Set(4, Symbol{Name: "loop", Line: 9})
	if !d.Equal(e) {
		t.Error("identical tables compared unequal")
	}
}
