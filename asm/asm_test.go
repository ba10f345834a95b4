package asm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/chazu/mvm/vm"
)

func assemble(t *testing.T, src string) (*vm.ISeq, *vm.DebugSymbols) {
	t.Helper()
	seq, syms, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return seq, syms
}

func runSource(t *testing.T, src string) *vm.Result {
	t.Helper()
	seq, syms := assemble(t, src)
	res, err := vm.NewVM().Run(context.Background(), seq, syms)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

const sumSource = `; sum 1..5
new-int 'i 0
new-int 's 0
loop:
get i
calc-add 1
move 'i
get s
calc-add i
move 's
get i
op-lt? 5
jumpif @loop
get s
`

func TestAssembleLoop(t *testing.T) {
	res := runSource(t, sumSource)
	if res.Value.Int() != 15 {
		t.Fatalf("sum = %s, want 15", res.Value)
	}
}

func TestLineNumberTarget(t *testing.T) {
	// Line 4 holds the label; the first instruction after it is "get i".
	src := strings.Replace(sumSource, "jumpif @loop", "jumpif 4", 1)
	seq, _ := assemble(t, src)
	in := seq.Code[10]
	if in.Op != vm.OpJumpIf || in.Args[0].Kind != vm.OperandTarget || in.Args[0].Target != 2 {
		t.Fatalf("jumpif assembled as %+v", in)
	}
	res := runSource(t, src)
	if res.Value.Int() != 15 {
		t.Errorf("sum = %s, want 15", res.Value)
	}
}

func TestLambdaBlocks(t *testing.T) {
	src := `
lambda add a b:
    calc-add a b
lambda outer x:
    lambda _ y:
        calc-mul y 2
    move 'dbl
    call dbl x
call add 2 3
move 'five
call outer five
`
	seq, _ := assemble(t, src)
	want := []struct {
		op vm.OpCode
		n  int64 // body length for procs
	}{
		{vm.OpProc, 1}, {vm.OpCalcAdd, 0},
		{vm.OpProc, 4}, {vm.OpProc, 1}, {vm.OpCalcMul, 0}, {vm.OpMove, 0}, {vm.OpCall, 0},
		{vm.OpCall, 0}, {vm.OpMove, 0}, {vm.OpCall, 0},
	}
	if seq.Len() != len(want) {
		t.Fatalf("assembled %d instructions, want %d", seq.Len(), len(want))
	}
	for i, w := range want {
		in := seq.Code[i]
		if in.Op != w.op {
			t.Errorf("instruction %d = %s, want %s", i, in.Op, w.op)
		}
		if w.op == vm.OpProc && in.Args[2].Value.Int() != w.n {
			t.Errorf("proc at %d has body length %d, want %d", i, in.Args[2].Value.Int(), w.n)
		}
	}
	if name := seq.Code[3].Args[0].Value.Str(); name != "" {
		t.Errorf("anonymous lambda named %q", name)
	}

	res, err := vm.NewVM().Run(context.Background(), seq, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Value.Int() != 10 {
		t.Errorf("outer(add(2, 3)) = %s, want 10", res.Value)
	}
}

func TestImplBlock(t *testing.T) {
	seq, syms := assemble(t, `impl Greeter greet name:
    str-new hi there, ; not a comment
    str-cat name
`)
	in := seq.Code[0]
	if in.Op != vm.OpImpl || len(in.Args) != 4 {
		t.Fatalf("header assembled as %+v", in)
	}
	if in.Args[0].Kind != vm.OperandSymbol || in.Args[0].Name != "Greeter" || in.Args[1].Name != "greet" {
		t.Errorf("impl names = %+v %+v", in.Args[0], in.Args[1])
	}
	if in.Args[3].Value.Int() != 2 {
		t.Errorf("body length = %d, want 2", in.Args[3].Value.Int())
	}
	text := seq.Code[1].Args[0].Value.Str()
	if text != "hi there, ; not a comment" {
		t.Errorf("str-new text = %q", text)
	}
	if sym, _ := syms.Lookup(1); sym.Name != "Greeter.greet" || sym.Line != 2 {
		t.Errorf("body symbol = %+v", sym)
	}
}

func TestStrNewForms(t *testing.T) {
	seq, _ := assemble(t, `str-new 'a plain words
str-new "quoted\ttext"
str-new 'b $other
`)
	tests := []struct {
		idx  int
		args []vm.Operand
	}{
		{0, []vm.Operand{vm.Sym("a"), vm.Lit(vm.NewStr("plain words"))}},
		{1, []vm.Operand{vm.Lit(vm.NewStr("quoted\ttext"))}},
		{2, []vm.Operand{vm.Sym("b"), vm.Var("other")}},
	}
	for _, tt := range tests {
		got := seq.Code[tt.idx]
		if !got.Equal(vm.Ins(vm.OpStrNew, tt.args...)) {
			t.Errorf("line %d assembled as %+v", tt.idx+1, got)
		}
	}
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		text string
		want vm.Value
	}{
		{"7", vm.NewInt(7)},
		{"-7", vm.NewInt(-7)},
		{"3000000000", vm.NewLong(3000000000)},
		{"7L", vm.NewLong(7)},
		{"-2b", vm.NewByte(-2)},
		{"300s", vm.NewShort(300)},
		{"1.5", vm.NewDouble(1.5)},
		{"2e3", vm.NewDouble(2000)},
		{"1.5f", vm.NewFloat(1.5)},
		{"'x'", vm.NewChar('x')},
		{`'\n'`, vm.NewChar('\n')},
		{`"a\"b"`, vm.NewStr(`a"b`)},
		{"true", vm.True},
		{"null", vm.Null},
		{"-inf", vm.NewDouble(math.Inf(-1))},
		{"[1 2s, \"x\"]", vm.NewArrayValue(vm.NewArray(vm.NewInt(1), vm.NewShort(2), vm.NewStr("x")))},
	}
	for _, tt := range tests {
		seq, _, err := Assemble("new-array " + tt.text)
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		got := seq.Code[0].Args[0]
		if !got.Equal(vm.Lit(tt.want)) {
			t.Errorf("%s assembled as %s (%s), want %s (%s)",
				tt.text, got.Value, got.Value.Kind(), tt.want, tt.want.Kind())
		}
	}
}

func TestOperandKinds(t *testing.T) {
	seq, _ := assemble(t, `call-static 'Point origin $"odd name" '"odd sym"`)
	want := vm.Ins(vm.OpCallStatic, vm.Sym("Point"), vm.Var("origin"), vm.Var("odd name"), vm.Sym("odd sym"))
	if !seq.Code[0].Equal(want) {
		t.Errorf("assembled %+v", seq.Code[0])
	}
}

func TestAssembleErrors(t *testing.T) {
	src := `new-int 1
bogus-op 2
jump @nowhere
new-int 1b 2 3
lambda f x
`
	_, _, err := Assemble(src)
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("error = %v, want an ErrorList", err)
	}
	lines := map[int]bool{}
	for _, e := range list {
		lines[e.Pos.Line] = true
	}
	for _, l := range []int{2, 3, 5} {
		if !lines[l] {
			t.Errorf("no error reported on line %d: %v", l, list)
		}
	}
}

func TestValidationErrorsCarryLines(t *testing.T) {
	_, _, err := Assemble("new-int 1\nmove\n")
	var list ErrorList
	if !errors.As(err, &list) || len(list) != 1 || list[0].Pos.Line != 2 {
		t.Fatalf("error = %v, want one error on line 2", err)
	}
}

func TestDuplicateLabel(t *testing.T) {
	_, _, err := Assemble("a:\nnew-int 1\na:\nnew-int 2\n")
	if err == nil || !strings.Contains(err.Error(), "defined twice") {
		t.Errorf("error = %v", err)
	}
}

func TestDebugSymbols(t *testing.T) {
	_, syms := assemble(t, sumSource)
	tests := []struct {
		idx  int
		name string
		line int
	}{
		{0, "main", 2},
		{2, "loop", 5},
		{11, "loop", 14},
	}
	for _, tt := range tests {
		sym, ok := syms.Lookup(tt.idx)
		if !ok || sym.Name != tt.name || sym.Line != tt.line {
			t.Errorf("symbol %d = %+v, want %s:%d", tt.idx, sym, tt.name, tt.line)
		}
	}
}

func TestDisassembleRoundTrip(t *testing.T) {
	withLabels := vm.NewISeq(
		vm.Ins(vm.OpNewInt, vm.Sym("n"), vm.Lit(vm.NewInt(3))),
		vm.Ins(vm.OpGet, vm.Var("n")),
		vm.Ins(vm.OpCalcSub, vm.Lit(vm.NewInt(1))),
		vm.Ins(vm.OpMove, vm.Sym("n")),
		vm.Ins(vm.OpJumpIf, vm.Target(1)),
		vm.Ins(vm.OpJumpIfErr, vm.Target(7)),
		vm.Ins(vm.OpJump, vm.Target(7)),
	)
	withLabels.Labels["top"] = 1
	withLabels.Labels["end"] = 7

	odd := vm.NewISeq(
		vm.Ins(vm.OpNewArray, vm.Lit(vm.NewByte(-1)), vm.Lit(vm.NewShort(2)), vm.Lit(vm.NewLong(3)),
			vm.Lit(vm.NewFloat(0.25)), vm.Lit(vm.NewDouble(4)), vm.Lit(vm.NewChar('\'')), vm.Lit(vm.NewChar('"')),
			vm.Lit(vm.NewStr("line\nbreak")), vm.Lit(vm.NewDouble(math.NaN())), vm.Lit(vm.NewFloat(float32(math.Inf(-1)))),
			vm.Lit(vm.False), vm.Lit(vm.Null)),
		vm.Ins(vm.OpGet, vm.Var("true")),
		vm.Ins(vm.OpGet, vm.Var("has space")),
		vm.Ins(vm.OpCallX, vm.Sym("a b"), vm.Sym("c")),
		vm.Ins(vm.OpStrNew, vm.Var("s")),
		vm.Ins(vm.OpStrNew, vm.Sym("d"), vm.Lit(vm.NewStr("t"))),
	)

	nested := vm.NewISeq(
		vm.Ins(vm.OpProc, vm.Lit(vm.NewStr("f")), vm.Lit(vm.NewArrayValue(vm.NewArray(vm.NewStr("a")))), vm.Lit(vm.NewInt(5))),
		vm.Ins(vm.OpProc, vm.Lit(vm.NewStr("")), vm.Lit(vm.NewArrayValue(vm.NewArray())), vm.Lit(vm.NewInt(1))),
		vm.Ins(vm.OpNewInt, vm.Lit(vm.NewInt(1))),
		vm.Ins(vm.OpImpl, vm.Sym("Greeter"), vm.Sym("greet"), vm.Lit(vm.NewArrayValue(vm.NewArray())), vm.Lit(vm.NewInt(0))),
		vm.Ins(vm.OpJumpIf, vm.Target(6)),
		vm.Ins(vm.OpGet, vm.Var("a")),
		vm.Ins(vm.OpProc, vm.Lit(vm.NewStr("_")), vm.Lit(vm.NewArrayValue(vm.NewArray(vm.NewStr("x y")))), vm.Lit(vm.NewInt(0))),
		vm.Ins(vm.OpImpl, vm.Var("iface")),
	)
	nested.Labels["inner"] = 2

	for name, seq := range map[string]*vm.ISeq{"labels": withLabels, "literals": odd, "nested": nested} {
		t.Run(name, func(t *testing.T) {
			text := Disassemble(seq)
			back, _, err := Assemble(text)
			if err != nil {
				t.Fatalf("reassembling failed: %v\n%s", err, text)
			}
			if !back.Equal(seq) {
				t.Errorf("round trip changed the sequence:\n%s\nreassembled as:\n%s", text, Disassemble(back))
			}
		})
	}
}

func TestListing(t *testing.T) {
	seq, syms := assemble(t, "top:\nnew-int 1\njump @top\n")
	out := Listing(seq, syms, false)
	for _, want := range []string{"      top:\n", "0000  new-int 1  ; top:2\n", "0001  jump @top  ; top:3\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
