package asm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/mvm/vm"
)

const indentUnit = "    "

// Disassemble renders seq as assembly text. Assembling the result yields a
// sequence equal to seq. Literal kinds that have no textual form (vectors,
// maps, foreign values) are written as their quoted string rendering.
func Disassemble(seq *vm.ISeq) string {
	depth := nesting(seq)
	labelsAt := make(map[int][]string)
	for name, idx := range seq.Labels {
		labelsAt[idx] = append(labelsAt[idx], name)
	}

	// Lay out lines first so jump targets can refer to source line numbers.
	type outLine struct {
		depth int
		label string
		index int // -1 for label lines
	}
	var lines []outLine
	lineOf := make([]int, seq.Len())
	addLabels := func(idx, d int) {
		names := labelsAt[idx]
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, outLine{depth: d, label: name, index: -1})
		}
	}
	for i := range seq.Code {
		addLabels(i, depth[i])
		lines = append(lines, outLine{depth: depth[i], index: i})
		lineOf[i] = len(lines)
	}
	addLabels(seq.Len(), 0)

	target := func(t int) string {
		if name, ok := seq.LabelAt(t); ok {
			return "@" + name
		}
		if t < len(lineOf) {
			return strconv.Itoa(lineOf[t])
		}
		return strconv.Itoa(len(lines) + 1)
	}

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(strings.Repeat(indentUnit, l.depth))
		if l.index < 0 {
			sb.WriteString(l.label)
			sb.WriteString(":\n")
			continue
		}
		in := seq.Code[l.index]
		if h, ok := header(in, depth, l.index); ok {
			sb.WriteString(h)
		} else {
			sb.WriteString(formatInstruction(in, target))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// nesting returns the body depth of every instruction, or all zeros when
// the chunk structure is malformed.
func nesting(seq *vm.ISeq) []int {
	depth := make([]int, seq.Len())
	chunks, owner, err := seq.Chunks()
	if err != nil {
		return depth
	}
	for i, c := range owner {
		for p := c; chunks[p].Parent >= 0; p = chunks[p].Parent {
			depth[i]++
		}
	}
	return depth
}

// header renders proc and four-operand impl as block headers when their
// operands allow it. Bodies that are written as headers must be indented,
// so the header form is only used when nesting succeeded.
func header(in vm.Instruction, depth []int, idx int) (string, bool) {
	n, ok := bodyLen(in)
	if !ok || (n > 0 && (idx+1 >= len(depth) || depth[idx+1] <= depth[idx])) {
		return "", false
	}
	params, ok := paramNames(in.Args[len(in.Args)-2])
	if !ok {
		return "", false
	}
	var sb strings.Builder
	switch in.Op {
	case vm.OpProc:
		name := in.Args[0].Value.Str()
		sb.WriteString("lambda")
		switch {
		case name == "" && len(params) > 0:
			sb.WriteString(" _")
		case name == "":
		case IsIdent(name) && name != "_":
			sb.WriteString(" " + name)
		default:
			sb.WriteString(" " + strconv.Quote(name))
		}
	case vm.OpImpl:
		sb.WriteString("impl")
		for _, a := range in.Args[:2] {
			switch {
			case a.Kind == vm.OperandSymbol && IsIdent(a.Name):
				sb.WriteString(" " + a.Name)
			case a.Kind == vm.OperandSymbol:
				sb.WriteString(" '" + strconv.Quote(a.Name))
			case a.Kind == vm.OperandValue && a.Value.Kind() == vm.KindStr:
				sb.WriteString(" " + strconv.Quote(a.Value.Str()))
			default:
				return "", false
			}
		}
	}
	for _, p := range params {
		sb.WriteString(" " + p)
	}
	sb.WriteByte(':')
	return sb.String(), true
}

func bodyLen(in vm.Instruction) (int, bool) {
	var a vm.Operand
	switch {
	case in.Op == vm.OpProc && len(in.Args) == 3:
		a = in.Args[2]
	case in.Op == vm.OpImpl && len(in.Args) == 4:
		a = in.Args[3]
	default:
		return 0, false
	}
	if a.Kind != vm.OperandValue || a.Value.Kind() != vm.KindInt {
		return 0, false
	}
	return int(a.Value.Int()), true
}

func paramNames(o vm.Operand) ([]string, bool) {
	if o.Kind != vm.OperandValue || o.Value.Kind() != vm.KindArray {
		return nil, false
	}
	var out []string
	for _, p := range o.Value.Array().Items() {
		if p.Kind() != vm.KindStr {
			return nil, false
		}
		if IsIdent(p.Str()) {
			out = append(out, p.Str())
		} else {
			out = append(out, strconv.Quote(p.Str()))
		}
	}
	return out, true
}

func formatInstruction(in vm.Instruction, target func(int) string) string {
	parts := []string{in.Op.String()}
	for _, a := range in.Args {
		if in.Op == vm.OpStrNew && a.Kind == vm.OperandVar {
			parts = append(parts, varRef(a.Name))
			continue
		}
		parts = append(parts, FormatOperand(a, target))
	}
	return strings.Join(parts, " ")
}

// FormatOperand renders one operand. target renders resolved jump targets;
// when nil they are written as instruction indices.
func FormatOperand(o vm.Operand, target func(int) string) string {
	switch o.Kind {
	case vm.OperandValue:
		return FormatValue(o.Value)
	case vm.OperandVar:
		if _, kw := keywordValue(o.Name); IsIdent(o.Name) && !kw {
			return o.Name
		}
		return varRef(o.Name)
	case vm.OperandSymbol:
		if IsIdent(o.Name) {
			return "'" + o.Name
		}
		return "'" + strconv.Quote(o.Name)
	case vm.OperandLabel:
		return "@" + o.Name
	case vm.OperandTarget:
		if target == nil {
			return strconv.Itoa(o.Target)
		}
		return target(o.Target)
	}
	return "?"
}

func varRef(name string) string {
	if IsIdent(name) {
		return "$" + name
	}
	return "$" + strconv.Quote(name)
}

// FormatValue renders a literal value in assembly syntax.
func FormatValue(v vm.Value) string {
	switch v.Kind() {
	case vm.KindNull:
		return "null"
	case vm.KindBool:
		return strconv.FormatBool(v.Bool())
	case vm.KindByte:
		return fmt.Sprintf("%db", v.Int())
	case vm.KindShort:
		return fmt.Sprintf("%ds", v.Int())
	case vm.KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case vm.KindLong:
		return fmt.Sprintf("%dL", v.Int())
	case vm.KindChar:
		return strconv.QuoteRune(v.Char())
	case vm.KindFloat:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			return "nanf"
		case math.IsInf(f, 1):
			return "inff"
		case math.IsInf(f, -1):
			return "-inff"
		}
		return strconv.FormatFloat(f, 'g', -1, 32) + "f"
	case vm.KindDouble:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			return "nan"
		case math.IsInf(f, 1):
			return "inf"
		case math.IsInf(f, -1):
			return "-inf"
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case vm.KindStr:
		return strconv.Quote(v.Str())
	case vm.KindArray:
		items := v.Array().Items()
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = FormatValue(it)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return strconv.Quote(v.String())
}

// Listing renders one instruction per line with its index and, when syms is
// given, its source location. Bodies are indented. With color set the
// mnemonics are highlighted with ANSI escapes.
func Listing(seq *vm.ISeq, syms *vm.DebugSymbols, color bool) string {
	depth := nesting(seq)
	var sb strings.Builder
	for i, in := range seq.Code {
		for _, name := range labelsAtIndex(seq, i) {
			fmt.Fprintf(&sb, "      %s%s:\n", strings.Repeat(indentUnit, depth[i]), name)
		}
		text := formatInstruction(in, func(t int) string {
			if name, ok := seq.LabelAt(t); ok {
				return "@" + name
			}
			return fmt.Sprintf("%04d", t)
		})
		if color {
			text = "\x1b[1m" + in.Op.String() + "\x1b[0m" + strings.TrimPrefix(text, in.Op.String())
		}
		fmt.Fprintf(&sb, "%04d  %s%s", i, strings.Repeat(indentUnit, depth[i]), text)
		if sym, ok := syms.Lookup(i); ok {
			fmt.Fprintf(&sb, "  ; %s:%d", sym.Name, sym.Line)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func labelsAtIndex(seq *vm.ISeq, idx int) []string {
	var names []string
	for name, i := range seq.Labels {
		if i == idx {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
