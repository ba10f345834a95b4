package vm

func init() {
	register(opConvert, OpConvert)
	register(opLen, OpLen)
	register(opUnaryPredicate, OpNull, OpEqz, OpNez, OpGtz, OpLtz)
	register(opIsA, OpIsA)
	register(opCompare, OpEq, OpNe, OpGt, OpLt)
}

// unaryOperand reads the optional trailing operand of an op-* query.
func (c *Context) unaryOperand(f *Frame, args []Operand) (Value, bool, error) {
	if len(args) == 0 {
		return f.acc, false, nil
	}
	v, err := c.value(f, args[len(args)-1])
	return v, true, err
}

// op-convert kind [x]; the pseudo-kind "parsenum" reads a number from a
// string.
func opConvert(c *Context, f *Frame, in Instruction) error {
	name, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	x, explicit, err := c.unaryOperand(f, in.Args[1:])
	if err != nil {
		return err
	}
	var r Value
	if name == "parsenum" {
		r, err = ParseNumber(x)
	} else {
		k, ok := KindByName(name)
		if !ok {
			return faultf("unknown conversion kind %q", name)
		}
		r, err = Convert(x, k)
	}
	if err != nil {
		return err
	}
	answer(f, explicit, r)
	return nil
}

func opLen(c *Context, f *Frame, in Instruction) error {
	x, explicit, err := c.unaryOperand(f, in.Args)
	if err != nil {
		return err
	}
	n, err := length(in.Op, x)
	if err != nil {
		return err
	}
	answer(f, explicit, NewInt(int32(n)))
	return nil
}

func length(op OpCode, v Value) (int, error) {
	switch v.kind {
	case KindStr:
		return len([]rune(v.str)), nil
	case KindArray:
		return v.Array().Len(), nil
	case KindVector:
		return v.Vector().Len(), nil
	case KindMap:
		return v.Map().Len(), nil
	}
	return 0, typeErr(op, "a string or collection", v)
}

// op-null? / op-eqz? / op-nez? / op-gtz? / op-ltz?
func opUnaryPredicate(c *Context, f *Frame, in Instruction) error {
	x, explicit, err := c.unaryOperand(f, in.Args)
	if err != nil {
		return err
	}
	var r bool
	if in.Op == OpNull {
		r = x.IsNull()
	} else {
		if !x.IsNumeric() {
			return typeErr(in.Op, "a number", x)
		}
		cmp, err := compareValues(x, NewInt(0))
		if err != nil {
			return err
		}
		switch in.Op {
		case OpEqz:
			r = cmp == 0
		case OpNez:
			r = cmp != 0
		case OpGtz:
			r = cmp == 1
		case OpLtz:
			r = cmp == -1
		}
	}
	answer(f, explicit, NewBool(r))
	return nil
}

// op-is_a? type [x]: type is a value kind name or a class known to the
// bridge.
func opIsA(c *Context, f *Frame, in Instruction) error {
	name, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	x, explicit, err := c.unaryOperand(f, in.Args[1:])
	if err != nil {
		return err
	}
	var r bool
	switch k, ok := KindByName(name); {
	case ok:
		r = x.kind == k
	case name == "number":
		r = x.IsNumeric()
	case name == "integer":
		r = x.IsInteger()
	default:
		if x.IsNull() {
			break
		}
		class, err := c.classOf(NewStr(name))
		if err != nil {
			return err
		}
		if r, err = c.vm.bridge.IsInstance(x, class); err != nil {
			return AsError(err)
		}
	}
	answer(f, explicit, NewBool(r))
	return nil
}

// op-eq? [x] [y] and friends take operands like the binary calc
// instructions: none compares the popped value with the accumulator, one
// compares the accumulator with x, two compare x with y and push.
func opCompare(c *Context, f *Frame, in Instruction) error {
	var x, y Value
	switch len(in.Args) {
	case 0:
		left, err := f.pop()
		if err != nil {
			return err
		}
		x, y = left, f.acc
	case 1:
		v, err := c.value(f, in.Args[0])
		if err != nil {
			return err
		}
		x, y = f.acc, v
	default:
		vals, err := c.values(f, in.Args)
		if err != nil {
			return err
		}
		x, y = vals[0], vals[1]
	}

	var r bool
	switch in.Op {
	case OpEq:
		r = Equal(x, y)
	case OpNe:
		r = !Equal(x, y)
	default:
		cmp, err := compareValues(x, y)
		if err != nil {
			return err
		}
		if in.Op == OpGt {
			r = cmp == 1
		} else {
			r = cmp == -1
		}
	}
	answer(f, len(in.Args) == 2, NewBool(r))
	return nil
}
