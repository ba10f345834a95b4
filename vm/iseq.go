package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Operands and instructions
// ---------------------------------------------------------------------------

// OperandKind says how the dispatcher interprets an operand.
type OperandKind uint8

const (
	OperandValue  OperandKind = iota // literal value
	OperandVar                       // variable reference, read at run time
	OperandSymbol                    // quoted name: destination, subject, class or member
	OperandTarget                    // resolved jump target (absolute index)
	OperandLabel                     // unresolved jump target; must not reach the dispatcher
)

// Operand is a single instruction argument.
type Operand struct {
	Kind   OperandKind
	Value  Value  // OperandValue
	Name   string // OperandVar, OperandSymbol, OperandLabel
	Target int    // OperandTarget
}

// Lit returns a literal operand.
func Lit(v Value) Operand { return Operand{Kind: OperandValue, Value: v} }

// Var returns a variable-reference operand.
func Var(name string) Operand { return Operand{Kind: OperandVar, Name: name} }

// Sym returns a quoted-name operand.
func Sym(name string) Operand { return Operand{Kind: OperandSymbol, Name: name} }

// Target returns a resolved jump target.
func Target(index int) Operand { return Operand{Kind: OperandTarget, Target: index} }

// LabelRef returns an unresolved jump target.
func LabelRef(name string) Operand { return Operand{Kind: OperandLabel, Name: name} }

// Equal compares operands structurally.
func (o Operand) Equal(p Operand) bool {
	if o.Kind != p.Kind {
		return false
	}
	switch o.Kind {
	case OperandValue:
		return sameLiteral(o.Value, p.Value)
	case OperandTarget:
		return o.Target == p.Target
	}
	return o.Name == p.Name
}

// sameLiteral is strict structural equality for literal operands: kinds
// must match and arrays compare element-wise.
func sameLiteral(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindArray:
		x, y := a.Array().Items(), b.Array().Items()
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !sameLiteral(x[i], y[i]) {
				return false
			}
		}
		return true
	case KindStr:
		return a.str == b.str
	case KindNull:
		return true
	case KindByte, KindChar, KindShort, KindInt, KindLong, KindFloat, KindDouble, KindBool:
		return a.num == b.num
	}
	return a.ref == b.ref
}

// Instruction is one opcode with its operands.
type Instruction struct {
	Op   OpCode
	Args []Operand
}

// Ins builds an instruction.
func Ins(op OpCode, args ...Operand) Instruction {
	return Instruction{Op: op, Args: args}
}

// Equal compares instructions structurally.
func (in Instruction) Equal(other Instruction) bool {
	if in.Op != other.Op || len(in.Args) != len(other.Args) {
		return false
	}
	for i := range in.Args {
		if !in.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Instruction sequence
// ---------------------------------------------------------------------------

// ISeq is an instruction sequence. It is immutable once Resolve succeeds.
type ISeq struct {
	Code   []Instruction
	Labels map[string]int // label name -> instruction index; index Len() means end
}

// NewISeq creates a sequence from code.
func NewISeq(code ...Instruction) *ISeq {
	return &ISeq{Code: code, Labels: make(map[string]int)}
}

func (s *ISeq) Len() int { return len(s.Code) }

// Equal compares the instruction lists and label tables.
func (s *ISeq) Equal(other *ISeq) bool {
	if len(s.Code) != len(other.Code) || len(s.Labels) != len(other.Labels) {
		return false
	}
	for i := range s.Code {
		if !s.Code[i].Equal(other.Code[i]) {
			return false
		}
	}
	for k, v := range s.Labels {
		if ov, ok := other.Labels[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Resolve replaces label operands with absolute targets. Resolving an
// already-resolved sequence changes nothing.
func (s *ISeq) Resolve() error {
	for name, idx := range s.Labels {
		if idx < 0 || idx > len(s.Code) {
			return &Fault{Index: -1, Op: OpInvalid, Message: fmt.Sprintf("label %q points outside the sequence (%d)", name, idx)}
		}
	}
	for i := range s.Code {
		args := s.Code[i].Args
		for j, a := range args {
			switch a.Kind {
			case OperandLabel:
				idx, ok := s.Labels[a.Name]
				if !ok {
					return &Fault{Index: i, Op: s.Code[i].Op, Message: fmt.Sprintf("undefined label %q", a.Name)}
				}
				args[j] = Target(idx)
			case OperandTarget:
				if a.Target < 0 || a.Target > len(s.Code) {
					return &Fault{Index: i, Op: s.Code[i].Op, Message: fmt.Sprintf("jump target %d out of range", a.Target)}
				}
			}
		}
	}
	return nil
}

// LabelAt returns the first label name (in sorted order) bound to idx.
func (s *ISeq) LabelAt(idx int) (string, bool) {
	var names []string
	for name, i := range s.Labels {
		if i == idx {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// ---------------------------------------------------------------------------
// Chunks: main program and lambda/impl bodies
// ---------------------------------------------------------------------------

// Chunk is a contiguous code region executed by one kind of frame.
type Chunk struct {
	Start, End int // half-open; End is the implicit return/exit point
	Parent     int // index into the chunk list, -1 for main
}

// Chunks returns the main chunk followed by every body introduced by proc or
// impl, and owner maps each instruction index to its innermost chunk.
func (s *ISeq) Chunks() (chunks []Chunk, owner []int, err error) {
	chunks = []Chunk{{Start: 0, End: len(s.Code), Parent: -1}}
	owner = make([]int, len(s.Code))
	var stack []int
	stack = append(stack, 0)
	for i := 0; i < len(s.Code); i++ {
		for len(stack) > 1 && i >= chunks[stack[len(stack)-1]].End {
			stack = stack[:len(stack)-1]
		}
		cur := stack[len(stack)-1]
		owner[i] = cur
		n, ok := bodyLength(s.Code[i])
		if !ok {
			continue
		}
		if n < 0 || i+1+n > chunks[cur].End {
			return nil, nil, &Fault{Index: i, Op: s.Code[i].Op, Message: fmt.Sprintf("body length %d overruns its enclosing chunk", n)}
		}
		chunks = append(chunks, Chunk{Start: i + 1, End: i + 1 + n, Parent: cur})
		stack = append(stack, len(chunks)-1)
	}
	return chunks, owner, nil
}

// bodyLength reports the body length operand of proc or a four-operand impl.
func bodyLength(in Instruction) (int, bool) {
	switch {
	case in.Op == OpProc && len(in.Args) == 3:
		return int(in.Args[2].Value.Int()), true
	case in.Op == OpImpl && len(in.Args) == 4:
		return int(in.Args[3].Value.Int()), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Load-time validation
// ---------------------------------------------------------------------------

// Validate checks what can be checked before execution: opcodes, arity,
// operand kinds, chunk nesting, jump targets staying inside their chunk and
// scope balance along each chunk's linear code.
func (s *ISeq) Validate() error {
	chunks, owner, err := s.Chunks()
	if err != nil {
		return err
	}
	depth := make([]int, len(chunks))
	for i, in := range s.Code {
		if err := checkInstruction(in); err != nil {
			err.Index = i
			return err
		}
		c := owner[i]
		if in.Op.IsJump() {
			t := in.Args[0].Target
			if !inChunk(chunks, owner, c, t) {
				return &Fault{Index: i, Op: in.Op, Message: fmt.Sprintf("jump target %d leaves the enclosing chunk", t)}
			}
		}
		switch in.Op {
		case OpScope:
			depth[c]++
		case OpScopeEnd:
			depth[c]--
			if depth[c] < 0 {
				return &Fault{Index: i, Op: in.Op, Message: "scope-end without matching scope"}
			}
		}
	}
	return nil
}

func inChunk(chunks []Chunk, owner []int, c, target int) bool {
	if target == chunks[c].End {
		return true
	}
	if target < chunks[c].Start || target > chunks[c].End || target >= len(owner) {
		return false
	}
	return owner[target] == c
}

// checkInstruction validates a single instruction in isolation.
func checkInstruction(in Instruction) *Fault {
	if !in.Op.Valid() {
		return &Fault{Op: in.Op, Message: "unknown opcode"}
	}
	info := in.Op.Info()
	n := len(in.Args)
	if !info.arityOK(n) {
		return &Fault{Op: in.Op, Message: fmt.Sprintf("takes %s operands, got %d", arityText(info), n)}
	}
	for _, a := range in.Args {
		if a.Kind == OperandLabel {
			return &Fault{Op: in.Op, Message: fmt.Sprintf("unresolved label %q", a.Name)}
		}
		if a.Kind == OperandTarget && !in.Op.IsJump() {
			return &Fault{Op: in.Op, Message: "jump target operand on a non-jump instruction"}
		}
	}
	switch in.Op {
	case OpJump, OpJumpIf, OpJumpIfNot, OpJumpIfErr:
		if in.Args[0].Kind != OperandTarget {
			return &Fault{Op: in.Op, Message: "jump operand must be a target"}
		}
	case OpProc:
		if !isLit(in.Args[0], KindStr) || !isLit(in.Args[1], KindArray) || !isLit(in.Args[2], KindInt) {
			return &Fault{Op: in.Op, Message: "proc operands must be name, params and body length"}
		}
	case OpImpl:
		switch n {
		case 1:
		case 4:
			if !isLit(in.Args[2], KindArray) || !isLit(in.Args[3], KindInt) {
				return &Fault{Op: in.Op, Message: "impl operands must be interface, method, params and body length"}
			}
		default:
			return &Fault{Op: in.Op, Message: fmt.Sprintf("takes 1 or 4 operands, got %d", n)}
		}
	}
	return nil
}

func isLit(o Operand, k Kind) bool {
	return o.Kind == OperandValue && o.Value.kind == k
}

func arityText(info OpInfo) string {
	switch {
	case info.MaxArgs == Variadic:
		return fmt.Sprintf("at least %d", info.MinArgs)
	case info.MinArgs == info.MaxArgs:
		return fmt.Sprint(info.MinArgs)
	}
	return fmt.Sprintf("%d to %d", info.MinArgs, info.MaxArgs)
}

// ---------------------------------------------------------------------------
// Concatenation
// ---------------------------------------------------------------------------

// Concat appends b to a. Targets in b are rebased by a.Len(); a target equal
// to a.Len() in a now falls through into b. Both inputs are resolved first
// and rejected if any target cannot be rebased.
func Concat(a, b *ISeq, sa, sb *DebugSymbols) (*ISeq, *DebugSymbols, error) {
	for _, s := range []*ISeq{a, b} {
		if err := s.Resolve(); err != nil {
			return nil, nil, fmt.Errorf("concat: %w", err)
		}
	}
	off := a.Len()
	out := &ISeq{Code: make([]Instruction, 0, a.Len()+b.Len()), Labels: make(map[string]int, len(a.Labels)+len(b.Labels))}
	out.Code = append(out.Code, cloneCode(a.Code, 0)...)
	out.Code = append(out.Code, cloneCode(b.Code, off)...)
	for name, idx := range a.Labels {
		out.Labels[name] = idx
	}
	for name, idx := range b.Labels {
		key := name
		for n := 1; ; n++ {
			if _, taken := out.Labels[key]; !taken {
				break
			}
			key = fmt.Sprintf("%s.%d", name, n)
		}
		out.Labels[key] = idx + off
	}
	if err := out.Validate(); err != nil {
		return nil, nil, fmt.Errorf("concat: %w", err)
	}

	var syms *DebugSymbols
	if sa != nil || sb != nil {
		syms = NewDebugSymbols()
		syms.merge(sa, 0)
		syms.merge(sb, off)
	}
	return out, syms, nil
}

func cloneCode(code []Instruction, off int) []Instruction {
	out := make([]Instruction, len(code))
	for i, in := range code {
		args := make([]Operand, len(in.Args))
		for j, a := range in.Args {
			if a.Kind == OperandTarget {
				a.Target += off
			}
			args[j] = a
		}
		out[i] = Instruction{Op: in.Op, Args: args}
	}
	return out
}

// ---------------------------------------------------------------------------
// Debug symbols
// ---------------------------------------------------------------------------

// Symbol names the source location of an instruction.
type Symbol struct {
	Name string
	Line int
}

// DebugSymbols maps instruction indices to source locations. It is purely
// diagnostic and never consulted for control flow.
type DebugSymbols struct {
	Entries map[int]Symbol
}

// NewDebugSymbols creates an empty table.
func NewDebugSymbols() *DebugSymbols {
	return &DebugSymbols{Entries: make(map[int]Symbol)}
}

// Set records the symbol for idx.
func (d *DebugSymbols) Set(idx int, sym Symbol) {
	d.Entries[idx] = sym
}

// Lookup returns the symbol for idx. It is safe on a nil table.
func (d *DebugSymbols) Lookup(idx int) (*Symbol, bool) {
	if d == nil {
		return nil, false
	}
	sym, ok := d.Entries[idx]
	if !ok {
		return nil, false
	}
	return &sym, true
}

// Indices returns the recorded indices in ascending order.
func (d *DebugSymbols) Indices() []int {
	idx := make([]int, 0, len(d.Entries))
	for i := range d.Entries {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Equal compares two tables; nil equals nil only.
func (d *DebugSymbols) Equal(other *DebugSymbols) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.Entries) != len(other.Entries) {
		return false
	}
	for i, s := range d.Entries {
		if o, ok := other.Entries[i]; !ok || o != s {
			return false
		}
	}
	return true
}

func (d *DebugSymbols) merge(src *DebugSymbols, off int) {
	if src == nil {
		return
	}
	for i, s := range src.Entries {
		d.Entries[i+off] = s
	}
}
