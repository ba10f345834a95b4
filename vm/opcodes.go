package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// OpCode identifies an instruction.
type OpCode uint8

// New
const (
	OpNewByte OpCode = iota
	OpNewChar
	OpNewLong
	OpNewInt
	OpNewShort
	OpNewDouble
	OpNewFloat
	OpNewTrue
	OpNewFalse
	OpNewArray
	OpNewArrayRange
	OpNew
)

// Call
const (
	OpPCall OpCode = iota + OpNew + 1
	OpCall
	OpCallStatic
	OpCallX
	OpCallError
	OpCallAX
	OpCallAResult
	OpCallAError
)

// Get
const (
	OpGet OpCode = iota + OpCallAError + 1
	OpGetStack
	OpGetVars
	OpGetClass
	OpGetMethod
	OpGetField
	OpGetAccessible
	OpGetResult
	OpGetError
	OpGetIndex
)

// Move
const (
	OpMove OpCode = iota + OpGetIndex + 1
	OpMoveError
	OpMoveResult
	OpMoveField
	OpMoveIndex
	OpMoveAccessible
)

// Delete
const (
	OpDelete OpCode = iota + OpMoveAccessible + 1
	OpDeleteError
	OpDeleteResult
	OpDeleteIndex
	OpDeleteEnv
)

// Flow
const (
	OpRaise OpCode = iota + OpDeleteEnv + 1
	OpRaiseIf
	OpLeave
	OpLeaveIf
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpJumpIfErr
	OpReturn
	OpReturnIf
	OpReturnVoid
	OpReturnVoidIf
	OpSleep
	OpImpl
	OpProc
	OpGo
	OpBegin
)

// Calc
const (
	OpCalcAdd OpCode = iota + OpBegin + 1
	OpCalcSub
	OpCalcMul
	OpCalcDiv
	OpCalcPwr
	OpCalcRem
	OpCalcNeg
	OpCalcAnd
	OpCalcOr
	OpCalcNot
	OpCalcXor
	OpCalcBAnd
	OpCalcBOr
	OpCalcBNot
	OpCalcBXor
)

// Op
const (
	OpConvert OpCode = iota + OpCalcBXor + 1
	OpLen
	OpNull
	OpIsA
	OpEq
	OpEqz
	OpNe
	OpNez
	OpGt
	OpGtz
	OpLt
	OpLtz
)

// Map
const (
	OpMapNew OpCode = iota + OpLtz + 1
	OpMapAdd
	OpMapIndex
	OpMapMove
	OpMapDelete
	OpMapHasKey
	OpMapHasVal
	OpMapLocate
	OpMapLen
)

// String
const (
	OpStrNew OpCode = iota + OpMapLen + 1
	OpStrInclude
	OpStrLocate
	OpStrCat
	OpStrInsert
	OpStrIndex
	OpStrMove
	OpStrDelete
	OpStrTrim
	OpStrReplace
	OpStrStartWith
	OpStrEndWith
	OpStrLen
)

// Vector
const (
	OpVecNew OpCode = iota + OpStrLen + 1
	OpVecTop
	OpVecPush
	OpVecPop
	OpVecAdd
	OpVecIndex
	OpVecMove
	OpVecDelete
	OpVecInclude
	OpVecLocate
	OpVecLen
)

// Scope
const (
	OpScope OpCode = iota + OpVecLen + 1
	OpScopeEnd

	opCount
)

// OpInvalid is never produced by the assembler or codec.
const OpInvalid OpCode = 0xFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Category groups opcodes by the dispatcher family that executes them.
type Category uint8

const (
	CatNew Category = iota
	CatCall
	CatGet
	CatMove
	CatDelete
	CatFlow
	CatCalc
	CatOp
	CatMap
	CatStr
	CatVec
	CatScope
)

var categoryNames = [...]string{"new", "call", "get", "move", "delete", "flow", "calc", "op", "map", "str", "vec", "scope"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// Variadic marks an opcode without an upper operand bound.
const Variadic = -1

// OpInfo holds metadata about an opcode.
type OpInfo struct {
	Mnemonic string   // textual spelling, case-sensitive
	Category Category // dispatcher family
	MinArgs  int      // minimum operand count
	MaxArgs  int      // maximum operand count, or Variadic
	Usage    string   // operand synopsis shown by tooling
}

var opTable = [opCount]OpInfo{
	OpNewByte:       {"new-byte", CatNew, 1, 2, "new-byte ['dst] value"},
	OpNewChar:       {"new-char", CatNew, 1, 2, "new-char ['dst] value"},
	OpNewLong:       {"new-long", CatNew, 1, 2, "new-long ['dst] value"},
	OpNewInt:        {"new-int", CatNew, 1, 2, "new-int ['dst] value"},
	OpNewShort:      {"new-short", CatNew, 1, 2, "new-short ['dst] value"},
	OpNewDouble:     {"new-double", CatNew, 1, 2, "new-double ['dst] value"},
	OpNewFloat:      {"new-float", CatNew, 1, 2, "new-float ['dst] value"},
	OpNewTrue:       {"new-true", CatNew, 0, 1, "new-true ['dst]"},
	OpNewFalse:      {"new-false", CatNew, 0, 1, "new-false ['dst]"},
	OpNewArray:      {"new-array", CatNew, 0, Variadic, "new-array ['dst] items..."},
	OpNewArrayRange: {"new-array-range", CatNew, 2, 3, "new-array-range ['dst] from to"},
	OpNew:           {"new", CatNew, 0, Variadic, "new ['dst] ['Class] args..."},

	OpPCall:       {"pcall", CatCall, 1, Variadic, "pcall target [method] args..."},
	OpCall:        {"call", CatCall, 1, Variadic, "call target [method] args..."},
	OpCallStatic:  {"call-static", CatCall, 0, Variadic, "call-static 'Class method args... | call-static args..."},
	OpCallX:       {"call-x", CatCall, 0, Variadic, "call-x method args... | call-x args..."},
	OpCallError:   {"call-error", CatCall, 1, Variadic, "call-error method args..."},
	OpCallAX:      {"call-Ax", CatCall, 1, Variadic, "call-Ax target [method] args..."},
	OpCallAResult: {"call-Aresult", CatCall, 1, Variadic, "call-Aresult target [method] args..."},
	OpCallAError:  {"call-Aerror", CatCall, 1, Variadic, "call-Aerror target [method] args..."},

	OpGet:           {"get", CatGet, 1, 1, "get var"},
	OpGetStack:      {"get-stack", CatGet, 0, 0, "get-stack"},
	OpGetVars:       {"get-vars", CatGet, 0, 0, "get-vars"},
	OpGetClass:      {"get-class", CatGet, 0, 1, "get-class [name]"},
	OpGetMethod:     {"get-method", CatGet, 1, 2, "get-method [class] name"},
	OpGetField:      {"get-field", CatGet, 1, 2, "get-field [target] name"},
	OpGetAccessible: {"get-accessible?", CatGet, 0, 2, "get-accessible? [target] [member]"},
	OpGetResult:     {"get-result", CatGet, 0, 0, "get-result"},
	OpGetError:      {"get-error", CatGet, 0, 0, "get-error"},
	OpGetIndex:      {"get-index", CatGet, 1, 2, "get-index [var] idx"},

	OpMove:           {"move", CatMove, 1, 2, "move [src] dst"},
	OpMoveError:      {"move-error", CatMove, 1, 1, "move-error dst"},
	OpMoveResult:     {"move-result", CatMove, 1, 1, "move-result dst"},
	OpMoveField:      {"move-field", CatMove, 2, 3, "move-field target name [value]"},
	OpMoveIndex:      {"move-index", CatMove, 2, 3, "move-index [var] idx value"},
	OpMoveAccessible: {"move-accessible", CatMove, 1, 3, "move-accessible target [member] [flag]"},

	OpDelete:       {"delete", CatDelete, 0, 1, "delete [var]"},
	OpDeleteError:  {"delete-error", CatDelete, 0, 0, "delete-error"},
	OpDeleteResult: {"delete-result", CatDelete, 0, 0, "delete-result"},
	OpDeleteIndex:  {"delete-index", CatDelete, 1, 2, "delete-index [var] idx"},
	OpDeleteEnv:    {"delete-env", CatDelete, 0, 0, "delete-env"},

	OpRaise:        {"raise", CatFlow, 0, 1, "raise [message | var]"},
	OpRaiseIf:      {"raiseif", CatFlow, 0, 1, "raiseif [message | var]"},
	OpLeave:        {"leave", CatFlow, 0, 0, "leave"},
	OpLeaveIf:      {"leaveif", CatFlow, 0, 0, "leaveif"},
	OpJump:         {"jump", CatFlow, 1, 1, "jump @label | line"},
	OpJumpIf:       {"jumpif", CatFlow, 1, 1, "jumpif @label | line"},
	OpJumpIfNot:    {"jumpifnot", CatFlow, 1, 1, "jumpifnot @label | line"},
	OpJumpIfErr:    {"jumpiferr", CatFlow, 1, 1, "jumpiferr @label | line"},
	OpReturn:       {"return", CatFlow, 0, 1, "return [value]"},
	OpReturnIf:     {"returnif", CatFlow, 0, 1, "returnif [value]"},
	OpReturnVoid:   {"return-void", CatFlow, 0, 0, "return-void"},
	OpReturnVoidIf: {"return-voidif", CatFlow, 0, 0, "return-voidif"},
	OpSleep:        {"sleep", CatFlow, 0, 1, "sleep [millis]"},
	OpImpl:         {"impl", CatFlow, 1, 4, "impl Iface method params...: body | impl 'Iface"},
	OpProc:         {"proc", CatFlow, 3, 3, "lambda [name] [params...]: body"},
	OpGo:           {"go", CatFlow, 0, 1, "go [lambda]"},
	OpBegin:        {"begin", CatFlow, 0, 1, "begin [lambda]"},

	OpCalcAdd:  {"calc-add", CatCalc, 0, Variadic, "calc-add [x] [y...]"},
	OpCalcSub:  {"calc-sub", CatCalc, 0, Variadic, "calc-sub [x] [y...]"},
	OpCalcMul:  {"calc-mul", CatCalc, 0, Variadic, "calc-mul [x] [y...]"},
	OpCalcDiv:  {"calc-div", CatCalc, 0, Variadic, "calc-div [x] [y...]"},
	OpCalcPwr:  {"calc-pwr", CatCalc, 0, Variadic, "calc-pwr [x] [y...]"},
	OpCalcRem:  {"calc-rem", CatCalc, 0, Variadic, "calc-rem [x] [y...]"},
	OpCalcNeg:  {"calc-neg", CatCalc, 0, 1, "calc-neg [x]"},
	OpCalcAnd:  {"calc-and", CatCalc, 0, Variadic, "calc-and [x] [y...]"},
	OpCalcOr:   {"calc-or", CatCalc, 0, Variadic, "calc-or [x] [y...]"},
	OpCalcNot:  {"calc-not", CatCalc, 0, 1, "calc-not [x]"},
	OpCalcXor:  {"calc-xor", CatCalc, 0, Variadic, "calc-xor [x] [y...]"},
	OpCalcBAnd: {"calc-band", CatCalc, 0, Variadic, "calc-band [x] [y...]"},
	OpCalcBOr:  {"calc-bor", CatCalc, 0, Variadic, "calc-bor [x] [y...]"},
	OpCalcBNot: {"calc-bnot", CatCalc, 0, 1, "calc-bnot [x]"},
	OpCalcBXor: {"calc-bxor", CatCalc, 0, Variadic, "calc-bxor [x] [y...]"},

	OpConvert: {"op-convert", CatOp, 1, 2, "op-convert kind [x]"},
	OpLen:     {"op-len", CatOp, 0, 1, "op-len [x]"},
	OpNull:    {"op-null?", CatOp, 0, 1, "op-null? [x]"},
	OpIsA:     {"op-is_a?", CatOp, 1, 2, "op-is_a? type [x]"},
	OpEq:      {"op-eq?", CatOp, 0, 2, "op-eq? [x] [y]"},
	OpEqz:     {"op-eqz?", CatOp, 0, 1, "op-eqz? [x]"},
	OpNe:      {"op-ne?", CatOp, 0, 2, "op-ne? [x] [y]"},
	OpNez:     {"op-nez?", CatOp, 0, 1, "op-nez? [x]"},
	OpGt:      {"op-gt?", CatOp, 0, 2, "op-gt? [x] [y]"},
	OpGtz:     {"op-gtz?", CatOp, 0, 1, "op-gtz? [x]"},
	OpLt:      {"op-lt?", CatOp, 0, 2, "op-lt? [x] [y]"},
	OpLtz:     {"op-ltz?", CatOp, 0, 1, "op-ltz? [x]"},

	OpMapNew:    {"map-new", CatMap, 0, 1, "map-new ['dst]"},
	OpMapAdd:    {"map-add", CatMap, 2, 3, "map-add [map] key value"},
	OpMapIndex:  {"map-index", CatMap, 1, 2, "map-index [map] key"},
	OpMapMove:   {"map-move", CatMap, 2, 3, "map-move [map] key dst"},
	OpMapDelete: {"map-delete", CatMap, 1, 2, "map-delete [map] key"},
	OpMapHasKey: {"map-has_key?", CatMap, 1, 2, "map-has_key? [map] key"},
	OpMapHasVal: {"map-has_val?", CatMap, 1, 2, "map-has_val? [map] value"},
	OpMapLocate: {"map-locate", CatMap, 1, 2, "map-locate [map] value"},
	OpMapLen:    {"map-len", CatMap, 0, 1, "map-len [map]"},

	OpStrNew:       {"str-new", CatStr, 1, 2, "str-new ['dst] text"},
	OpStrInclude:   {"str-include?", CatStr, 1, 2, "str-include? [str] sub"},
	OpStrLocate:    {"str-locate", CatStr, 1, 2, "str-locate [str] sub"},
	OpStrCat:       {"str-cat", CatStr, 0, Variadic, "str-cat ['str] parts..."},
	OpStrInsert:    {"str-insert", CatStr, 2, 3, "str-insert [str] idx text"},
	OpStrIndex:     {"str-index", CatStr, 1, 2, "str-index [str] idx"},
	OpStrMove:      {"str-move", CatStr, 2, 3, "str-move [str] idx dst"},
	OpStrDelete:    {"str-delete", CatStr, 1, 2, "str-delete [str] idx"},
	OpStrTrim:      {"str-trim", CatStr, 0, 1, "str-trim [str]"},
	OpStrReplace:   {"str-replace", CatStr, 2, 3, "str-replace [str] old new"},
	OpStrStartWith: {"str-start_with?", CatStr, 1, 2, "str-start_with? [str] prefix"},
	OpStrEndWith:   {"str-end_with?", CatStr, 1, 2, "str-end_with? [str] suffix"},
	OpStrLen:       {"str-len", CatStr, 0, 1, "str-len [str]"},

	OpVecNew:     {"vec-new", CatVec, 0, Variadic, "vec-new ['dst] items..."},
	OpVecTop:     {"vec-top", CatVec, 0, 1, "vec-top [vec]"},
	OpVecPush:    {"vec-push", CatVec, 0, Variadic, "vec-push ['vec] values..."},
	OpVecPop:     {"vec-pop", CatVec, 0, 1, "vec-pop [vec]"},
	OpVecAdd:     {"vec-add", CatVec, 2, 3, "vec-add [vec] idx value"},
	OpVecIndex:   {"vec-index", CatVec, 1, 2, "vec-index [vec] idx"},
	OpVecMove:    {"vec-move", CatVec, 2, 3, "vec-move [vec] idx dst"},
	OpVecDelete:  {"vec-delete", CatVec, 1, 2, "vec-delete [vec] idx"},
	OpVecInclude: {"vec-include?", CatVec, 1, 2, "vec-include? [vec] value"},
	OpVecLocate:  {"vec-locate", CatVec, 1, 2, "vec-locate [vec] value"},
	OpVecLen:     {"vec-len", CatVec, 0, 1, "vec-len [vec]"},

	OpScope:    {"scope", CatScope, 0, 0, "scope"},
	OpScopeEnd: {"scope-end", CatScope, 0, 0, "scope-end"},
}

var opByMnemonic = func() map[string]OpCode {
	m := make(map[string]OpCode, opCount)
	for op := OpCode(0); op < opCount; op++ {
		m[opTable[op].Mnemonic] = op
	}
	return m
}()

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool { return op < opCount }

// Info returns the metadata for an opcode.
func (op OpCode) Info() OpInfo {
	if op.Valid() {
		return opTable[op]
	}
	return OpInfo{Mnemonic: fmt.Sprintf("unknown-%02x", byte(op)), MaxArgs: Variadic}
}

// String implements the Stringer interface.
func (op OpCode) String() string {
	return op.Info().Mnemonic
}

// IsJump reports whether op takes a single jump-target operand.
func (op OpCode) IsJump() bool {
	switch op {
	case OpJump, OpJumpIf, OpJumpIfNot, OpJumpIfErr:
		return true
	}
	return false
}

// ParseOpCode resolves a mnemonic. Matching is case-sensitive.
func ParseOpCode(mnemonic string) (OpCode, bool) {
	op, ok := opByMnemonic[mnemonic]
	return op, ok
}

// OpCodes returns every opcode in catalogue order.
func OpCodes() []OpCode {
	ops := make([]OpCode, opCount)
	for i := range ops {
		ops[i] = OpCode(i)
	}
	return ops
}

// arityOK checks n against op's operand bounds.
func (info OpInfo) arityOK(n int) bool {
	return n >= info.MinArgs && (info.MaxArgs == Variadic || n <= info.MaxArgs)
}
