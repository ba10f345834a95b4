package vm

func init() {
	register(opCalcBinary,
		OpCalcAdd, OpCalcSub, OpCalcMul, OpCalcDiv, OpCalcPwr, OpCalcRem,
		OpCalcAnd, OpCalcOr, OpCalcXor, OpCalcBAnd, OpCalcBOr, OpCalcBXor)
	register(opCalcUnary, OpCalcNeg, OpCalcNot, OpCalcBNot)
}

// Binary calc instructions take their operands three ways:
//
//	calc-add          left popped from the stack, right in the accumulator
//	calc-add x        accumulator OP x
//	calc-add x y z    ((x OP y) OP z), pushed
//
// The first two replace the accumulator.
func opCalcBinary(c *Context, f *Frame, in Instruction) error {
	switch len(in.Args) {
	case 0:
		left, err := f.pop()
		if err != nil {
			return err
		}
		r, err := Arith(in.Op, left, f.acc)
		if err != nil {
			return err
		}
		f.setAcc(r)
	case 1:
		x, err := c.value(f, in.Args[0])
		if err != nil {
			return err
		}
		r, err := Arith(in.Op, f.acc, x)
		if err != nil {
			return err
		}
		f.setAcc(r)
	default:
		vals, err := c.values(f, in.Args)
		if err != nil {
			return err
		}
		r := vals[0]
		for _, v := range vals[1:] {
			if r, err = Arith(in.Op, r, v); err != nil {
				return err
			}
		}
		f.push(r)
	}
	return nil
}

// calc-neg [x]
func opCalcUnary(c *Context, f *Frame, in Instruction) error {
	if len(in.Args) == 0 {
		r, err := Unary(in.Op, f.acc)
		if err != nil {
			return err
		}
		f.setAcc(r)
		return nil
	}
	x, err := c.value(f, in.Args[0])
	if err != nil {
		return err
	}
	r, err := Unary(in.Op, x)
	if err != nil {
		return err
	}
	f.push(r)
	return nil
}
