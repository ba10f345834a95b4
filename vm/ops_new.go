package vm

func init() {
	register(opNewPrimitive, OpNewByte, OpNewChar, OpNewLong, OpNewInt, OpNewShort, OpNewDouble, OpNewFloat)
	register(opNewBool, OpNewTrue, OpNewFalse)
	register(opNewArray, OpNewArray)
	register(opNewArrayRange, OpNewArrayRange)
	register(opNewObject, OpNew)
}

var primitiveKinds = map[OpCode]Kind{
	OpNewByte:   KindByte,
	OpNewChar:   KindChar,
	OpNewLong:   KindLong,
	OpNewInt:    KindInt,
	OpNewShort:  KindShort,
	OpNewDouble: KindDouble,
	OpNewFloat:  KindFloat,
}

// new-int ['dst] value
func opNewPrimitive(c *Context, f *Frame, in Instruction) error {
	dst, has, rest := subject(in)
	raw, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	v, err := Convert(raw, primitiveKinds[in.Op])
	if err != nil {
		return err
	}
	return c.produce(f, dst, has, v)
}

// new-true ['dst]
func opNewBool(c *Context, f *Frame, in Instruction) error {
	dst, has, _ := subject(in)
	return c.produce(f, dst, has, NewBool(in.Op == OpNewTrue))
}

// new-array ['dst] items...
func opNewArray(c *Context, f *Frame, in Instruction) error {
	dst, has, rest := subject(in)
	items, err := c.values(f, rest)
	if err != nil {
		return err
	}
	return c.produce(f, dst, has, NewArrayValue(NewArray(items...)))
}

const maxRange = 1 << 24

// new-array-range ['dst] from to, inclusive of both ends.
func opNewArrayRange(c *Context, f *Frame, in Instruction) error {
	dst, has, rest := subject(in)
	bounds, err := c.values(f, rest)
	if err != nil {
		return err
	}
	from, to := bounds[0], bounds[1]
	if !from.IsInteger() || !to.IsInteger() {
		return NewError(TypeError, "range bounds must be integers, got %s and %s", from.kind, to.kind)
	}
	lo, hi := from.Int(), to.Int()
	step := int64(1)
	span := uint64(hi) - uint64(lo)
	if lo > hi {
		step = -1
		span = uint64(lo) - uint64(hi)
	}
	if span >= maxRange {
		return NewError(RuntimeError, "range %d..%d is too large", lo, hi)
	}
	k := widen(from.kind, to.kind)
	items := make([]Value, 0, span+1)
	for x := lo; ; x += step {
		items = append(items, newInteger(k, x))
		if x == hi {
			break
		}
	}
	return c.produce(f, dst, has, NewArrayValue(NewArray(items...)))
}

// new ['dst] ['Class] args...
//
// Two leading quoted names are destination and class; one is the class.
// Without either the accumulator supplies the class (a class ref or name)
// and is replaced by the new object.
func opNewObject(c *Context, f *Frame, in Instruction) error {
	args := in.Args
	quoted := 0
	for quoted < len(args) && quoted < 2 && args[quoted].Kind == OperandSymbol {
		quoted++
	}

	var dst Operand
	var classVal Value
	switch quoted {
	case 2:
		dst = args[0]
		classVal = NewStr(args[1].Name)
	case 1:
		classVal = NewStr(args[0].Name)
	default:
		classVal = f.acc
	}
	class, err := c.classOf(classVal)
	if err != nil {
		return err
	}
	ctorArgs, err := c.values(f, args[quoted:])
	if err != nil {
		return err
	}
	obj, err := c.vm.bridge.Construct(class, ctorArgs)
	if err != nil {
		return AsError(err)
	}
	switch quoted {
	case 2:
		return c.produce(f, dst, true, obj)
	case 1:
		f.push(obj)
	default:
		f.setAcc(obj)
	}
	return nil
}

// classOf accepts a class ref or resolves a class name through the bridge.
func (c *Context) classOf(v Value) (*ClassRef, error) {
	switch v.kind {
	case KindClass:
		return v.Class(), nil
	case KindStr:
		class, err := c.vm.bridge.ResolveClass(v.str)
		if err != nil {
			return nil, AsError(err)
		}
		return class, nil
	}
	return nil, NewError(TypeError, "expected a class or class name, got %s", v.kind)
}
