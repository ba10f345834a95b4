package vm

import (
	"context"
	"errors"
)

func init() {
	register(opCall, OpCall, OpPCall, OpCallAX, OpCallAResult, OpCallAError)
	register(opCallStatic, OpCallStatic)
	register(opCallX, OpCallX)
	register(opCallError, OpCallError)
}

// call target [method] args...
//
// Lambda and method-ref targets take every remaining operand as an argument;
// any other target needs a method name first. The A-variants prepend the
// accumulator, result register or error register to the arguments.
func opCall(c *Context, f *Frame, in Instruction) error {
	target, err := c.value(f, in.Args[0])
	if err != nil {
		return err
	}
	var lead []Value
	replace := false
	switch in.Op {
	case OpCallAX:
		lead = []Value{f.acc}
		replace = true
	case OpCallAResult:
		lead = []Value{f.result}
	case OpCallAError:
		lead = []Value{f.takeError()}
	}
	name, args, err := c.callArgs(f, target, in.Args[1:])
	if err != nil {
		return err
	}
	return c.callValue(f, target, name, append(lead, args...), in.Op == OpPCall, replace)
}

// call-static 'Class method args...
// call-static args...   (method ref or lambda in the accumulator)
func opCallStatic(c *Context, f *Frame, in Instruction) error {
	if class, ok, err := c.staticClass(f, in.Args); err != nil {
		return err
	} else if ok {
		if len(in.Args) < 2 {
			return faultf("call-static needs a method name after the class")
		}
		name, err := nameOf(in.Args[1])
		if err != nil {
			return err
		}
		args, err := c.values(f, in.Args[2:])
		if err != nil {
			return err
		}
		m, err := c.vm.bridge.ResolveMethod(NewClassValue(class), name)
		if err != nil {
			return AsError(err)
		}
		v, err := c.vm.bridge.Invoke(m, Null, args)
		return c.foreignResult(f, v, err, false, false)
	}

	if f.acc.kind != KindMethod && f.acc.kind != KindLambda {
		return typeErr(in.Op, "a class name or a method in the accumulator", f.acc)
	}
	args, err := c.values(f, in.Args)
	if err != nil {
		return err
	}
	return c.callValue(f, f.acc, "", args, false, true)
}

// staticClass reports the class named by a leading quoted operand, or held
// by a leading variable.
func (c *Context) staticClass(f *Frame, args []Operand) (*ClassRef, bool, error) {
	if len(args) == 0 {
		return nil, false, nil
	}
	switch args[0].Kind {
	case OperandSymbol:
		class, err := c.classOf(NewStr(args[0].Name))
		return class, err == nil, err
	case OperandVar:
		if v, ok := f.scope().Lookup(args[0].Name); ok && v.kind == KindClass {
			return v.Class(), true, nil
		}
	}
	return nil, false, nil
}

// call-x method args...   (receiver in the accumulator)
// call-x args...          (method ref or lambda in the accumulator)
func opCallX(c *Context, f *Frame, in Instruction) error {
	recv := f.acc
	name, args, err := c.callArgs(f, recv, in.Args)
	if err != nil {
		return err
	}
	return c.callValue(f, recv, name, args, false, true)
}

// call-error method args...   (receiver in the error register, which is cleared)
func opCallError(c *Context, f *Frame, in Instruction) error {
	if f.err == nil {
		return NewError(NullError, "call-error with an empty error register")
	}
	recv := f.takeError()
	name, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	args, err := c.values(f, in.Args[1:])
	if err != nil {
		return err
	}
	return c.callValue(f, recv, name, args, false, false)
}

// callArgs splits operands into method name and argument values for target.
func (c *Context) callArgs(f *Frame, target Value, ops []Operand) (string, []Value, error) {
	if target.kind == KindLambda || target.kind == KindMethod {
		args, err := c.values(f, ops)
		return "", args, err
	}
	if len(ops) == 0 {
		return "", nil, NewError(TypeError, "calling a %s needs a method name", target.kind)
	}
	name, err := nameOf(ops[0])
	if err != nil {
		return "", nil, err
	}
	args, err := c.values(f, ops[1:])
	return name, args, err
}

// callValue invokes target. Lambdas get a new frame; everything else goes
// through native receivers or the bridge and completes immediately.
func (c *Context) callValue(f *Frame, target Value, name string, args []Value, protected, replace bool) error {
	switch target.kind {
	case KindLambda:
		return c.enter(target.Lambda(), args, protected, replace)
	case KindMethod:
		v, err := c.vm.bridge.Invoke(target.Method(), Null, args)
		return c.foreignResult(f, v, err, protected, replace)
	case KindNull:
		return c.foreignResult(f, Null, NewError(NullError, "call %s on null", name), protected, replace)
	}
	if v, ok, err := nativeCall(c.ctx, target, name, args); ok {
		if cerr := c.ctx.Err(); cerr != nil && errors.Is(err, cerr) {
			return cerr
		}
		return c.foreignResult(f, v, err, protected, replace)
	}
	m, err := c.vm.bridge.ResolveMethod(target, name)
	if err != nil {
		return c.foreignResult(f, Null, err, protected, replace)
	}
	v, err := c.vm.bridge.Invoke(m, target, args)
	return c.foreignResult(f, v, err, protected, replace)
}

// foreignResult completes a call that did not push a frame. Inside pcall a
// failure lands in the current error register instead of unwinding.
func (c *Context) foreignResult(f *Frame, v Value, err error, protected, replace bool) error {
	if err != nil {
		e := AsError(err)
		if !protected {
			return e
		}
		f.err = e
		f.deliver(Null, replace)
		return nil
	}
	if protected {
		f.err = nil
	}
	f.result = v
	f.deliver(v, replace)
	return nil
}

// nativeCall answers methods on values the VM owns itself.
func nativeCall(ctx context.Context, recv Value, name string, args []Value) (Value, bool, error) {
	switch recv.kind {
	case KindError:
		e := recv.Err()
		switch name {
		case "message":
			return NewStr(e.Message), true, nil
		case "kind":
			return NewStr(e.Kind.String()), true, nil
		case "index":
			return NewLong(int64(e.Index)), true, nil
		case "cause":
			if e.Cause == nil {
				return Null, true, nil
			}
			return NewStr(e.Cause.Error()), true, nil
		}
		return Null, true, NewError(TypeError, "error has no method %q", name)
	case KindForeign:
		if p, ok := recv.ref.(*Process); ok {
			return p.call(ctx, name, args)
		}
	}
	return Null, false, nil
}
