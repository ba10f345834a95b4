// Package codec implements the binary program format read by "mvm load" and
// written by "mvm dump": a four-byte magic followed by one CBOR document
// holding the instruction sequence, its labels and optional debug symbols.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/mvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic prefixes every encoded program.
var Magic = []byte("MVMC")

// Version is the format version written by Dump.
const Version = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// ErrNotProgram is returned by Load when the magic is missing.
var ErrNotProgram = errors.New("codec: not an encoded program")

// file is the top-level document.
type file struct {
	Version uint8          `cbor:"1,keyasint"`
	Code    []instruction  `cbor:"2,keyasint"`
	Labels  map[string]int `cbor:"3,keyasint,omitempty"`
	Symbols []symbol       `cbor:"4,keyasint,omitempty"`
}

type instruction struct {
	Op   uint8     `cbor:"1,keyasint"`
	Args []operand `cbor:"2,keyasint,omitempty"`
}

type operand struct {
	Kind   uint8    `cbor:"1,keyasint"`
	Value  *literal `cbor:"2,keyasint,omitempty"`
	Name   string   `cbor:"3,keyasint,omitempty"`
	Target int      `cbor:"4,keyasint,omitempty"`
}

// literal carries integers (and chars and bools) in Int and floating point
// values as raw IEEE bits, so NaN payloads survive canonical encoding.
type literal struct {
	Kind  uint8     `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Bits  uint64    `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
	Items []literal `cbor:"5,keyasint,omitempty"`
}

type symbol struct {
	Index int    `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
	Line  int    `cbor:"3,keyasint"`
}

// IsProgram reports whether data starts with the format magic.
func IsProgram(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Dump encodes seq and, when non-nil, its debug symbols.
func Dump(seq *vm.ISeq, syms *vm.DebugSymbols) ([]byte, error) {
	f := file{Version: Version, Code: make([]instruction, len(seq.Code)), Labels: seq.Labels}
	for i, in := range seq.Code {
		ins := instruction{Op: uint8(in.Op)}
		for j, a := range in.Args {
			o, err := encodeOperand(a)
			if err != nil {
				return nil, fmt.Errorf("codec: instruction %d operand %d: %w", i, j, err)
			}
			ins.Args = append(ins.Args, o)
		}
		f.Code[i] = ins
	}
	if syms != nil {
		for _, idx := range syms.Indices() {
			s, _ := syms.Lookup(idx)
			f.Symbols = append(f.Symbols, symbol{Index: idx, Name: s.Name, Line: s.Line})
		}
	}
	body, err := encMode.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return append(append([]byte{}, Magic...), body...), nil
}

// Load decodes a program written by Dump. The sequence is resolved and
// validated before it is returned; symbols are nil when none were dumped.
func Load(data []byte) (*vm.ISeq, *vm.DebugSymbols, error) {
	if !IsProgram(data) {
		return nil, nil, ErrNotProgram
	}
	var f file
	if err := decMode.Unmarshal(data[len(Magic):], &f); err != nil {
		return nil, nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	if f.Version != Version {
		return nil, nil, fmt.Errorf("codec: unsupported format version %d", f.Version)
	}

	seq := vm.NewISeq()
	seq.Code = make([]vm.Instruction, len(f.Code))
	for name, idx := range f.Labels {
		seq.Labels[name] = idx
	}
	for i, in := range f.Code {
		op := vm.OpCode(in.Op)
		if !op.Valid() {
			return nil, nil, fmt.Errorf("codec: instruction %d: unknown opcode %#x", i, in.Op)
		}
		args := make([]vm.Operand, len(in.Args))
		for j, o := range in.Args {
			a, err := decodeOperand(o)
			if err != nil {
				return nil, nil, fmt.Errorf("codec: instruction %d operand %d: %w", i, j, err)
			}
			args[j] = a
		}
		seq.Code[i] = vm.Ins(op, args...)
	}
	if err := seq.Resolve(); err != nil {
		return nil, nil, fmt.Errorf("codec: %w", err)
	}
	if err := seq.Validate(); err != nil {
		return nil, nil, fmt.Errorf("codec: %w", err)
	}

	var syms *vm.DebugSymbols
	if len(f.Symbols) > 0 {
		syms = vm.NewDebugSymbols()
		for _, s := range f.Symbols {
			if s.Index < 0 || s.Index >= seq.Len() {
				return nil, nil, fmt.Errorf("codec: symbol for instruction %d out of range", s.Index)
			}
			syms.Set(s.Index, vm.Symbol{Name: s.Name, Line: s.Line})
		}
	}
	return seq, syms, nil
}

func encodeOperand(a vm.Operand) (operand, error) {
	o := operand{Kind: uint8(a.Kind)}
	switch a.Kind {
	case vm.OperandValue:
		lit, err := encodeLiteral(a.Value)
		if err != nil {
			return o, err
		}
		o.Value = &lit
	case vm.OperandTarget:
		o.Target = a.Target
	case vm.OperandVar, vm.OperandSymbol, vm.OperandLabel:
		o.Name = a.Name
	default:
		return o, fmt.Errorf("unknown operand kind %d", a.Kind)
	}
	return o, nil
}

func decodeOperand(o operand) (vm.Operand, error) {
	switch vm.OperandKind(o.Kind) {
	case vm.OperandValue:
		if o.Value == nil {
			return vm.Operand{}, errors.New("literal operand without a value")
		}
		v, err := decodeLiteral(*o.Value)
		if err != nil {
			return vm.Operand{}, err
		}
		return vm.Lit(v), nil
	case vm.OperandVar:
		return vm.Var(o.Name), nil
	case vm.OperandSymbol:
		return vm.Sym(o.Name), nil
	case vm.OperandLabel:
		return vm.LabelRef(o.Name), nil
	case vm.OperandTarget:
		return vm.Target(o.Target), nil
	}
	return vm.Operand{}, fmt.Errorf("unknown operand kind %d", o.Kind)
}

func encodeLiteral(v vm.Value) (literal, error) {
	lit := literal{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindNull:
	case vm.KindBool:
		if v.Bool() {
			lit.Int = 1
		}
	case vm.KindByte, vm.KindChar, vm.KindShort, vm.KindInt, vm.KindLong:
		lit.Int = v.Int()
	case vm.KindFloat:
		lit.Bits = uint64(math.Float32bits(float32(v.Float())))
	case vm.KindDouble:
		lit.Bits = math.Float64bits(v.Float())
	case vm.KindStr:
		lit.Str = v.Str()
	case vm.KindArray:
		for _, it := range v.Array().Items() {
			e, err := encodeLiteral(it)
			if err != nil {
				return lit, err
			}
			lit.Items = append(lit.Items, e)
		}
	default:
		return lit, fmt.Errorf("a %s value cannot be encoded as a literal", v.Kind())
	}
	return lit, nil
}

func decodeLiteral(lit literal) (vm.Value, error) {
	switch k := vm.Kind(lit.Kind); k {
	case vm.KindNull:
		return vm.Null, nil
	case vm.KindBool:
		return vm.NewBool(lit.Int != 0), nil
	case vm.KindByte:
		return vm.NewByte(int8(lit.Int)), nil
	case vm.KindChar:
		return vm.NewChar(rune(lit.Int)), nil
	case vm.KindShort:
		return vm.NewShort(int16(lit.Int)), nil
	case vm.KindInt:
		return vm.NewInt(int32(lit.Int)), nil
	case vm.KindLong:
		return vm.NewLong(lit.Int), nil
	case vm.KindFloat:
		return vm.NewFloat(math.Float32frombits(uint32(lit.Bits))), nil
	case vm.KindDouble:
		return vm.NewDouble(math.Float64frombits(lit.Bits)), nil
	case vm.KindStr:
		return vm.NewStr(lit.Str), nil
	case vm.KindArray:
		items := make([]vm.Value, len(lit.Items))
		for i, e := range lit.Items {
			v, err := decodeLiteral(e)
			if err != nil {
				return vm.Null, err
			}
			items[i] = v
		}
		return vm.NewArrayValue(vm.NewArray(items...)), nil
	default:
		return vm.Null, fmt.Errorf("%s is not a literal kind", k)
	}
}

// SortedLabels returns label names ordered by index, then name.
func SortedLabels(seq *vm.ISeq) []string {
	names := make([]string, 0, len(seq.Labels))
	for name := range seq.Labels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := seq.Labels[names[i]], seq.Labels[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}
