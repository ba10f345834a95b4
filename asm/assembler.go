// Package asm converts between the textual assembly form of a program and
// vm instruction sequences.
//
// A source file is read line by line:
//
//	; comment
//	loop:                      ; label, bound to the next instruction
//	    calc-add 'n n 1
//	    jumpif @loop           ; or a source line number: jumpif 2
//	lambda add a b:            ; proc; the indented lines below are its body
//	    calc-add a b
//	impl Greeter greet name:   ; one-method impl with an indented body
//	    str-new hi there       ; unquoted str-new text runs to end of line
//
// Operands are bare variables, 'symbols, $variables, numbers with an optional
// type suffix (2b byte, 2s short, 2 int, 2L long, 1.5f float, 1.5 double),
// 'c' characters, "strings", [arrays], true, false, null, nan and inf.
package asm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/mvm/vm"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is an assembly error at a source position.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ErrorList collects every error found in one source.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1)
}

// Err returns nil for an empty list.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// block is an open lambda or impl body.
type block struct {
	indent int
	at     int    // index of the proc/impl instruction
	name   string // debug name of the body
	label  string // most recent label inside the body
}

type lineTarget struct {
	index, arg int
	line       int
	pos        Position
}

type labelUse struct {
	name string
	pos  Position
}

type assembler struct {
	code    []vm.Instruction
	lines   []int
	labels  map[string]int
	syms    *vm.DebugSymbols
	blocks  []*block
	label   string // most recent label in the main chunk
	targets []lineTarget
	uses    []labelUse
	errs    ErrorList
}

// Assemble parses src into an instruction sequence and its debug symbols.
// Labels and line-number targets are resolved and the result is validated.
// On failure the error is an ErrorList.
func Assemble(src string) (*vm.ISeq, *vm.DebugSymbols, error) {
	a := &assembler{
		labels: make(map[string]int),
		syms:   vm.NewDebugSymbols(),
	}
	for i, line := range strings.Split(src, "\n") {
		a.line(line, i+1)
	}
	a.closeBlocks(-1)
	seq := a.finish()
	if err := a.errs.Err(); err != nil {
		return nil, nil, err
	}
	return seq, a.syms, nil
}

func (a *assembler) errorf(pos Position, format string, args ...any) {
	a.errs = append(a.errs, &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// indentOf returns the width of the leading whitespace of line.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func (a *assembler) line(text string, lineNo int) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return
	}
	indent := indentOf(text)
	a.closeBlocks(indent)

	lex := NewLexer(text, lineNo)
	first := lex.NextToken()
	if first.Type == TokenError {
		a.errorf(first.Pos, "%s", first.Literal)
		return
	}
	if first.Type != TokenIdent {
		a.errorf(first.Pos, "expected a mnemonic, label or block header, got %s", first.Type)
		return
	}
	if first.Literal == "str-new" {
		a.strNew(lex, first, lineNo)
		return
	}

	toks := lex.Tokens()
	if n := len(toks); n > 0 && toks[n-1].Type == TokenError {
		a.errorf(toks[n-1].Pos, "%s", toks[n-1].Literal)
		return
	}
	header := len(toks) > 0 && toks[len(toks)-1].Type == TokenColon

	switch {
	case header && len(toks) == 1 && first.Literal != "lambda":
		a.defineLabel(first)
	case first.Literal == "lambda":
		if !header {
			a.errorf(first.Pos, "lambda header must end with ':'")
			return
		}
		a.lambdaHeader(toks[:len(toks)-1], indent, lineNo, first.Pos)
	case first.Literal == "impl" && header:
		a.implHeader(toks[:len(toks)-1], indent, lineNo, first.Pos)
	default:
		a.instruction(first, toks, lineNo)
	}
}

// closeBlocks ends every open body whose header is indented at least as far
// as indent. A negative indent closes all of them.
func (a *assembler) closeBlocks(indent int) {
	for len(a.blocks) > 0 {
		b := a.blocks[len(a.blocks)-1]
		if indent >= 0 && indent > b.indent {
			return
		}
		a.blocks = a.blocks[:len(a.blocks)-1]
		in := &a.code[b.at]
		in.Args[len(in.Args)-1] = vm.Lit(vm.NewInt(int32(len(a.code) - b.at - 1)))
	}
}

// debugName is the name recorded for the next instruction: the latest label
// of the innermost chunk, else the chunk's own name.
func (a *assembler) debugName() string {
	if n := len(a.blocks); n > 0 {
		b := a.blocks[n-1]
		if b.label != "" {
			return b.label
		}
		return b.name
	}
	if a.label != "" {
		return a.label
	}
	return "main"
}

func (a *assembler) emit(in vm.Instruction, lineNo int) int {
	idx := len(a.code)
	a.syms.Set(idx, vm.Symbol{Name: a.debugName(), Line: lineNo})
	a.code = append(a.code, in)
	a.lines = append(a.lines, lineNo)
	return idx
}

func (a *assembler) defineLabel(tok Token) {
	if _, dup := a.labels[tok.Literal]; dup {
		a.errorf(tok.Pos, "label %q defined twice", tok.Literal)
		return
	}
	if _, isOp := vm.ParseOpCode(tok.Literal); isOp {
		a.errorf(tok.Pos, "label %q shadows a mnemonic", tok.Literal)
		return
	}
	a.labels[tok.Literal] = len(a.code)
	if n := len(a.blocks); n > 0 {
		a.blocks[n-1].label = tok.Literal
	} else {
		a.label = tok.Literal
	}
}

// headerName reads a name in a block header: a bare name, a string or, for
// impl, a symbol.
func headerName(tok Token) (string, bool) {
	switch tok.Type {
	case TokenIdent, TokenString, TokenSymbol:
		return tok.Literal, true
	}
	return "", false
}

func (a *assembler) params(toks []Token) (vm.Operand, bool) {
	items := make([]vm.Value, 0, len(toks))
	for _, t := range toks {
		name, ok := headerName(t)
		if !ok || t.Type == TokenSymbol {
			a.errorf(t.Pos, "parameter must be a name, got %s", t.Type)
			return vm.Operand{}, false
		}
		items = append(items, vm.NewStr(name))
	}
	return vm.Lit(vm.NewArrayValue(vm.NewArray(items...))), true
}

// lambdaHeader handles "lambda [name|_] params...:".
func (a *assembler) lambdaHeader(toks []Token, indent, lineNo int, pos Position) {
	var name string
	if len(toks) > 0 {
		n, ok := headerName(toks[0])
		if !ok || toks[0].Type == TokenSymbol {
			a.errorf(toks[0].Pos, "lambda name must be a name or _, got %s", toks[0].Type)
			return
		}
		if toks[0].Type == TokenIdent && n == "_" {
			n = ""
		}
		name = n
		toks = toks[1:]
	}
	ps, ok := a.params(toks)
	if !ok {
		return
	}
	idx := a.emit(vm.Ins(vm.OpProc, vm.Lit(vm.NewStr(name)), ps, vm.Lit(vm.NewInt(0))), lineNo)
	debug := name
	if debug == "" {
		debug = "lambda"
	}
	a.blocks = append(a.blocks, &block{indent: indent, at: idx, name: debug})
}

// implHeader handles "impl Iface method params...:".
func (a *assembler) implHeader(toks []Token, indent, lineNo int, pos Position) {
	if len(toks) < 2 {
		a.errorf(pos, "impl header needs an interface and a method name")
		return
	}
	var names [2]vm.Operand
	for i, t := range toks[:2] {
		switch t.Type {
		case TokenIdent, TokenSymbol:
			names[i] = vm.Sym(t.Literal)
		case TokenString:
			names[i] = vm.Lit(vm.NewStr(t.Literal))
		default:
			a.errorf(t.Pos, "impl header expects a name, got %s", t.Type)
			return
		}
	}
	ps, ok := a.params(toks[2:])
	if !ok {
		return
	}
	idx := a.emit(vm.Ins(vm.OpImpl, names[0], names[1], ps, vm.Lit(vm.NewInt(0))), lineNo)
	a.blocks = append(a.blocks, &block{indent: indent, at: idx, name: toks[0].Literal + "." + toks[1].Literal})
}

func (a *assembler) instruction(first Token, toks []Token, lineNo int) {
	op, ok := vm.ParseOpCode(first.Literal)
	if !ok {
		a.errorf(first.Pos, "unknown mnemonic %q", first.Literal)
		return
	}
	p := &operandParser{a: a, toks: toks}
	var args []vm.Operand
	var pending []lineTarget
	for !p.done() {
		tok := p.peek()
		if op.IsJump() && tok.Type == TokenNumber {
			p.next()
			n, err := strconv.Atoi(tok.Literal)
			if err != nil || n < 1 {
				a.errorf(tok.Pos, "bad line number %q", tok.Literal)
				return
			}
			pending = append(pending, lineTarget{arg: len(args), line: n, pos: tok.Pos})
			args = append(args, vm.Target(0))
			continue
		}
		o, ok := p.operand()
		if !ok {
			return
		}
		if o.Kind == vm.OperandLabel {
			a.uses = append(a.uses, labelUse{name: o.Name, pos: tok.Pos})
		}
		args = append(args, o)
	}
	idx := a.emit(vm.Ins(op, args...), lineNo)
	for _, t := range pending {
		t.index = idx
		a.targets = append(a.targets, t)
	}
}

// strNew handles str-new, whose unquoted text operand runs to the end of
// the line.
func (a *assembler) strNew(lex *Lexer, first Token, lineNo int) {
	var args []vm.Operand
	rest := strings.TrimLeft(lex.Rest(), " \t")
	if strings.HasPrefix(rest, "'") {
		tok := lex.NextToken()
		if tok.Type != TokenSymbol {
			a.errorf(tok.Pos, "str-new destination must be a symbol")
			return
		}
		args = append(args, vm.Sym(tok.Literal))
		rest = strings.TrimLeft(lex.Rest(), " \t")
	}
	trimmed := strings.TrimSpace(rest)
	if trimmed == "" || strings.HasPrefix(trimmed, "\"") || strings.HasPrefix(trimmed, "$") {
		toks := lex.Tokens()
		if n := len(toks); n > 0 && toks[n-1].Type == TokenError {
			a.errorf(toks[n-1].Pos, "%s", toks[n-1].Literal)
			return
		}
		p := &operandParser{a: a, toks: toks}
		for !p.done() {
			o, ok := p.operand()
			if !ok {
				return
			}
			args = append(args, o)
		}
	} else {
		args = append(args, vm.Lit(vm.NewStr(trimmed)))
	}
	if len(args) == 0 {
		a.errorf(first.Pos, "str-new needs text")
		return
	}
	a.emit(vm.Ins(vm.OpStrNew, args...), lineNo)
}

// finish resolves labels and line targets, then validates the sequence.
func (a *assembler) finish() *vm.ISeq {
	for _, u := range a.uses {
		if _, ok := a.labels[u.name]; !ok {
			a.errorf(u.pos, "undefined label %q", u.name)
		}
	}
	for _, t := range a.targets {
		a.code[t.index].Args[t.arg] = vm.Target(a.indexAtLine(t.line))
	}
	if len(a.errs) > 0 {
		return nil
	}

	seq := &vm.ISeq{Code: a.code, Labels: a.labels}
	if seq.Code == nil {
		seq.Code = []vm.Instruction{}
	}
	if err := seq.Resolve(); err != nil {
		a.faultError(err)
		return nil
	}
	if err := seq.Validate(); err != nil {
		a.faultError(err)
		return nil
	}
	return seq
}

// indexAtLine maps a source line to the first instruction at or after it.
func (a *assembler) indexAtLine(line int) int {
	for i, l := range a.lines {
		if l >= line {
			return i
		}
	}
	return len(a.code)
}

func (a *assembler) faultError(err error) {
	var f *vm.Fault
	pos := Position{Line: 1, Column: 1}
	if errors.As(err, &f) && f.Index >= 0 && f.Index < len(a.lines) {
		pos.Line = a.lines[f.Index]
		a.errorf(pos, "%s: %s", f.Op, f.Message)
		return
	}
	a.errorf(pos, "%v", err)
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

type operandParser struct {
	a    *assembler
	toks []Token
	i    int
}

func (p *operandParser) done() bool  { return p.i >= len(p.toks) }
func (p *operandParser) peek() Token { return p.toks[p.i] }

func (p *operandParser) next() Token {
	t := p.toks[p.i]
	p.i++
	return t
}

func (p *operandParser) operand() (vm.Operand, bool) {
	tok := p.next()
	switch tok.Type {
	case TokenIdent:
		if v, ok := keywordValue(tok.Literal); ok {
			return vm.Lit(v), true
		}
		return vm.Var(tok.Literal), true
	case TokenVar:
		return vm.Var(tok.Literal), true
	case TokenSymbol:
		return vm.Sym(tok.Literal), true
	case TokenLabelRef:
		return vm.LabelRef(tok.Literal), true
	case TokenString:
		return vm.Lit(vm.NewStr(tok.Literal)), true
	case TokenChar:
		r := []rune(tok.Literal)
		return vm.Lit(vm.NewChar(r[0])), true
	case TokenNumber:
		v, err := ParseNumber(tok.Literal)
		if err != nil {
			p.a.errorf(tok.Pos, "%v", err)
			return vm.Operand{}, false
		}
		return vm.Lit(v), true
	case TokenLBracket:
		v, ok := p.array(tok)
		return vm.Lit(v), ok
	}
	p.a.errorf(tok.Pos, "unexpected %s", tok.Type)
	return vm.Operand{}, false
}

// array reads literal elements up to the closing bracket.
func (p *operandParser) array(open Token) (vm.Value, bool) {
	var items []vm.Value
	for {
		if p.done() {
			p.a.errorf(open.Pos, "unterminated array")
			return vm.Null, false
		}
		switch p.peek().Type {
		case TokenRBracket:
			p.next()
			return vm.NewArrayValue(vm.NewArray(items...)), true
		case TokenComma:
			p.next()
			continue
		}
		tok := p.peek()
		o, ok := p.operand()
		if !ok {
			return vm.Null, false
		}
		if o.Kind != vm.OperandValue {
			p.a.errorf(tok.Pos, "array elements must be literals")
			return vm.Null, false
		}
		items = append(items, o.Value)
	}
}

func keywordValue(s string) (vm.Value, bool) {
	switch s {
	case "true":
		return vm.True, true
	case "false":
		return vm.False, true
	case "null":
		return vm.Null, true
	case "nan":
		return vm.NewDouble(math.NaN()), true
	case "inf":
		return vm.NewDouble(math.Inf(1)), true
	case "-inf":
		return vm.NewDouble(math.Inf(-1)), true
	case "nanf":
		return vm.NewFloat(float32(math.NaN())), true
	case "inff":
		return vm.NewFloat(float32(math.Inf(1))), true
	case "-inff":
		return vm.NewFloat(float32(math.Inf(-1))), true
	}
	return vm.Null, false
}

// ParseNumber interprets a numeric literal with an optional type suffix:
// b (byte), s (short), L (long), f (float). Unsuffixed integers are ints,
// or longs when they do not fit; anything with a fraction or exponent is a
// double.
func ParseNumber(lit string) (vm.Value, error) {
	body, suffix := lit, byte(0)
	if n := len(lit); n > 1 {
		switch lit[n-1] {
		case 'b', 's', 'L', 'f':
			body, suffix = lit[:n-1], lit[n-1]
		}
	}
	floating := strings.ContainsAny(body, ".eE")
	if floating || suffix == 'f' {
		bits := 64
		if suffix == 'f' {
			bits = 32
		} else if suffix != 0 {
			return vm.Null, fmt.Errorf("bad number %q", lit)
		}
		f, err := strconv.ParseFloat(body, bits)
		if err != nil {
			return vm.Null, fmt.Errorf("bad number %q", lit)
		}
		if bits == 32 {
			return vm.NewFloat(float32(f)), nil
		}
		return vm.NewDouble(f), nil
	}

	size := map[byte]int{'b': 8, 's': 16, 'L': 64, 0: 32}[suffix]
	n, err := strconv.ParseInt(body, 10, size)
	if err != nil {
		if suffix == 0 {
			if l, lerr := strconv.ParseInt(body, 10, 64); lerr == nil {
				return vm.NewLong(l), nil
			}
		}
		return vm.Null, fmt.Errorf("bad number %q", lit)
	}
	switch suffix {
	case 'b':
		return vm.NewByte(int8(n)), nil
	case 's':
		return vm.NewShort(int16(n)), nil
	case 'L':
		return vm.NewLong(n), nil
	}
	return vm.NewInt(int32(n)), nil
}
