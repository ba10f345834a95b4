package vm

import (
	"context"
	"time"
)

func init() {
	register(opRaise, OpRaise, OpRaiseIf)
	register(opLeave, OpLeave, OpLeaveIf)
	register(opJump, OpJump, OpJumpIf, OpJumpIfNot, OpJumpIfErr)
	register(opReturn, OpReturn, OpReturnIf, OpReturnVoid, OpReturnVoidIf)
	register(opSleep, OpSleep)
	register(opImpl, OpImpl)
	register(opProc, OpProc)
	register(opGo, OpGo)
	register(opBegin, OpBegin)
}

// raise [message | var]
//
// Without an operand the error register is re-raised, or failing that the
// accumulator. Error values propagate as they are; anything else becomes a
// UserError carrying its text. raiseif fires only on a truthy accumulator.
func opRaise(c *Context, f *Frame, in Instruction) error {
	if in.Op == OpRaiseIf && !f.acc.Truthy() {
		return nil
	}
	var v Value
	switch {
	case len(in.Args) == 1:
		var err error
		if v, err = c.value(f, in.Args[0]); err != nil {
			return err
		}
	case f.err != nil:
		v = f.takeError()
	default:
		v = f.acc
	}
	if v.kind == KindError {
		return v.Err()
	}
	return NewError(UserError, "%s", v.String())
}

// leave ends the context with the accumulator as its value.
func opLeave(c *Context, f *Frame, in Instruction) error {
	if in.Op == OpLeaveIf && !f.acc.Truthy() {
		return nil
	}
	c.finish(f.acc)
	return nil
}

func opJump(c *Context, f *Frame, in Instruction) error {
	o := in.Args[0]
	if o.Kind != OperandTarget {
		return faultf("jump operand must be a resolved target")
	}
	var taken bool
	switch in.Op {
	case OpJump:
		taken = true
	case OpJumpIf:
		taken = f.acc.Truthy()
	case OpJumpIfNot:
		taken = !f.acc.Truthy()
	case OpJumpIfErr:
		taken = f.err != nil
	}
	if !taken {
		return nil
	}
	if o.Target < f.start || o.Target > f.end {
		return faultf("jump target %d outside the current chunk [%d, %d]", o.Target, f.start, f.end)
	}
	f.ip = o.Target
	return nil
}

// return [value] / returnif [value] / return-void / return-voidif
func opReturn(c *Context, f *Frame, in Instruction) error {
	switch in.Op {
	case OpReturnIf, OpReturnVoidIf:
		if !f.acc.Truthy() {
			return nil
		}
	}
	v := Null
	switch in.Op {
	case OpReturn, OpReturnIf:
		v = f.acc
		if len(in.Args) == 1 {
			var err error
			if v, err = c.value(f, in.Args[0]); err != nil {
				return err
			}
		}
	}
	c.returnFrom(v)
	return nil
}

// sleep [millis] suspends this context only. Host cancellation wakes it.
func opSleep(c *Context, f *Frame, in Instruction) error {
	v := f.acc
	if len(in.Args) == 1 {
		var err error
		if v, err = c.value(f, in.Args[0]); err != nil {
			return err
		}
	}
	if !v.IsNumeric() {
		return typeErr(in.Op, "a duration in milliseconds", v)
	}
	d := time.Duration(v.Float() * float64(time.Millisecond))
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// proc name params length
//
// The next length instructions are the lambda's body. The lambda captures
// the innermost scope by reference and execution skips past the body.
func opProc(c *Context, f *Frame, in Instruction) error {
	l, err := c.makeLambda(f, in.Args[0].Value.str, in.Args[1], in.Args[2])
	if err != nil {
		return err
	}
	v := NewLambdaValue(l)
	if l.Name != "" {
		c.store(f, l.Name, v)
	}
	f.push(v)
	return nil
}

func (c *Context) makeLambda(f *Frame, name string, params, length Operand) (*Lambda, error) {
	if params.Kind != OperandValue || params.Value.kind != KindArray ||
		length.Kind != OperandValue || !length.Value.IsInteger() {
		return nil, faultf("malformed code chunk operands")
	}
	items := params.Value.Array().Items()
	names := make([]string, len(items))
	for i, p := range items {
		if p.kind != KindStr {
			return nil, faultf("parameter %d is not a name", i)
		}
		names[i] = p.str
	}
	n := int(length.Value.Int())
	if n < 0 || f.ip+n > f.end {
		return nil, faultf("code chunk of %d instructions overruns its parent", n)
	}
	l := &Lambda{
		Name:   name,
		Params: names,
		Start:  f.ip,
		End:    f.ip + n,
		Seq:    f.seq,
		Syms:   f.syms,
		Scope:  f.scope(),
		vm:     c.vm,
	}
	f.ip += n
	return l, nil
}

// impl Iface method params length   (one method, body follows)
// impl 'Iface                        (Map of method -> lambda in the accumulator)
func opImpl(c *Context, f *Frame, in Instruction) error {
	ifaceName, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	methods := make(map[string]*Lambda)
	switch len(in.Args) {
	case 4:
		method, err := nameOf(in.Args[1])
		if err != nil {
			return err
		}
		l, err := c.makeLambda(f, method, in.Args[2], in.Args[3])
		if err != nil {
			return err
		}
		methods[method] = l
	case 1:
		if f.acc.kind != KindMap {
			return typeErr(in.Op, "a map of method names to lambdas", f.acc)
		}
		var bad *Error
		f.acc.Map().Range(func(_ int, k, v Value) bool {
			if k.kind != KindStr || v.kind != KindLambda {
				bad = NewError(TypeError, "impl %s: entry %s -> %s is not method name -> lambda", ifaceName, k, v.kind)
				return false
			}
			methods[k.str] = v.Lambda()
			return true
		})
		if bad != nil {
			return bad
		}
	default:
		return faultf("impl takes 1 or 4 operands, got %d", len(in.Args))
	}

	class, err := c.classOf(NewStr(ifaceName))
	if err != nil {
		return err
	}
	// Host calls may arrive after this run's context is cancelled.
	ctx := context.WithoutCancel(c.ctx)
	callables := make(map[string]Callable, len(methods))
	for name, l := range methods {
		callables[name] = func(args []Value) (Value, error) {
			return l.Call(ctx, args...)
		}
	}
	obj, err := c.vm.bridge.ImplementInterface(class, callables)
	if err != nil {
		return AsError(err)
	}
	f.deliver(obj, len(in.Args) == 1)
	return nil
}

// lambdaOperand reads the optional lambda operand of go and begin.
func (c *Context) lambdaOperand(f *Frame, in Instruction) (*Lambda, error) {
	v := f.acc
	if len(in.Args) == 1 {
		var err error
		if v, err = c.value(f, in.Args[0]); err != nil {
			return nil, err
		}
	}
	return requireLambda(v, in.Op.String())
}

// go [lambda] starts the lambda in a new context. The process handle lands
// in the result register; the accumulator is untouched.
func opGo(c *Context, f *Frame, in Instruction) error {
	l, err := c.lambdaOperand(f, in)
	if err != nil {
		return err
	}
	p := c.vm.spawn(c.ctx, l)
	f.result = NewForeign(p)
	return nil
}

// begin [lambda] runs the lambda inline as a nested frame.
func opBegin(c *Context, f *Frame, in Instruction) error {
	l, err := c.lambdaOperand(f, in)
	if err != nil {
		return err
	}
	return c.enter(l, nil, false, len(in.Args) == 0)
}
