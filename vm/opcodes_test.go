package vm

import "testing"

func TestMnemonicsRoundTrip(t *testing.T) {
	seen := make(map[string]OpCode)
	for _, op := range OpCodes() {
		m := op.String()
		if m == "" {
			t.Fatalf("opcode %d has no mnemonic", op)
		}
		if prev, dup := seen[m]; dup {
			t.Fatalf("mnemonic %q used by %d and %d", m, prev, op)
		}
		seen[m] = op
		got, ok := ParseOpCode(m)
		if !ok || got != op {
			t.Errorf("ParseOpCode(%q) = %d, %v; want %d", m, got, ok, op)
		}
		if handlers[op] == nil {
			t.Errorf("%s has no handler", m)
		}
	}
}

func TestIrregularMnemonics(t *testing.T) {
	tests := []struct {
		mnemonic string
		op       OpCode
	}{
		{"new-true", OpNewTrue},
		{"new", OpNew},
		{"call-Ax", OpCallAX},
		{"call-Aresult", OpCallAResult},
		{"call-Aerror", OpCallAError},
		{"get-accessible?", OpGetAccessible},
		{"op-null?", OpNull},
		{"op-is_a?", OpIsA},
		{"op-eq?", OpEq},
		{"op-gtz?", OpGtz},
		{"map-has_key?", OpMapHasKey},
		{"map-has_val?", OpMapHasVal},
		{"str-include?", OpStrInclude},
		{"str-start_with?", OpStrStartWith},
		{"str-end_with?", OpStrEndWith},
		{"vec-include?", OpVecInclude},
		{"jumpiferr", OpJumpIfErr},
		{"return-voidif", OpReturnVoidIf},
	}
	for _, tt := range tests {
		got, ok := ParseOpCode(tt.mnemonic)
		if !ok || got != tt.op {
			t.Errorf("ParseOpCode(%q) = %v, %v; want %v", tt.mnemonic, got, ok, tt.op)
		}
	}
}

func TestMnemonicsCaseSensitive(t *testing.T) {
	for _, m := range []string{"CALL-AX", "call-ax", "Op-Null?", "op-is-a?", "map-has-key?"} {
		if _, ok := ParseOpCode(m); ok {
			t.Errorf("ParseOpCode(%q) accepted a non-reserved spelling", m)
		}
	}
}

func TestArity(t *testing.T) {
	tests := []struct {
		op   OpCode
		n    int
		want bool
	}{
		{OpGet, 1, true},
		{OpGet, 0, false},
		{OpCalcAdd, 0, true},
		{OpCalcAdd, 9, true},
		{OpProc, 3, true},
		{OpProc, 2, false},
		{OpMoveField, 4, false},
	}
	for _, tt := range tests {
		if got := tt.op.Info().arityOK(tt.n); got != tt.want {
			t.Errorf("%s with %d operands: arityOK = %v, want %v", tt.op, tt.n, got, tt.want)
		}
	}
}

func TestUnknownOpCode(t *testing.T) {
	op := OpCode(0xF0)
	if op.Valid() {
		t.Fatal("0xF0 reported valid")
	}
	if op.String() != "unknown-f0" {
		t.Errorf("String() = %q", op.String())
	}
}
