package vm

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Context: one thread of execution
// ---------------------------------------------------------------------------

// Context is an independent execution context: a call stack driven by one
// dispatcher loop. The main program runs in one; every `go` spawns another.
type Context struct {
	ID     string
	vm     *VM
	ctx    context.Context
	frames []*Frame

	done  bool
	final Value
}

func (vm *VM) newContext(ctx context.Context, base *Frame) *Context {
	return &Context{
		ID:     newContextID(),
		vm:     vm,
		ctx:    ctx,
		frames: []*Frame{base},
	}
}

func (c *Context) top() *Frame {
	return c.frames[len(c.frames)-1]
}

// handler executes one instruction against the top frame. The frame's ip
// already points past the instruction; handlers that redirect set it.
type handler func(c *Context, f *Frame, in Instruction) error

var handlers [opCount]handler

func register(h handler, ops ...OpCode) {
	for _, op := range ops {
		handlers[op] = h
	}
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes until leave, exhaustion of the outermost frame, an unhandled
// error or a fault.
func (c *Context) run() (Value, error) {
	for !c.done {
		if err := c.ctx.Err(); err != nil {
			return Null, err
		}
		f := c.top()
		if f.ip >= f.end {
			if len(c.frames) == 1 {
				c.finish(f.acc)
				break
			}
			c.returnFrom(f.acc)
			continue
		}

		idx := f.ip
		in := f.seq.Code[idx]
		c.vm.emitTrace(c, f, idx, in.Op)
		f.ip++
		if err := c.exec(f, in); err != nil {
			if err := c.fail(f, idx, in.Op, err); err != nil {
				return Null, err
			}
		}
	}
	return c.final, nil
}

func (c *Context) exec(f *Frame, in Instruction) error {
	if !in.Op.Valid() || handlers[in.Op] == nil {
		return faultf("unknown opcode %d", in.Op)
	}
	if !in.Op.Info().arityOK(len(in.Args)) {
		return faultf("takes %s operands, got %d", arityText(in.Op.Info()), len(in.Args))
	}
	return handlers[in.Op](c, f, in)
}

// fail routes an instruction error: faults and host cancellation abort the
// context, runtime errors unwind to the nearest protected call.
func (c *Context) fail(f *Frame, idx int, op OpCode, err error) error {
	sym, _ := f.syms.Lookup(idx)
	var fault *Fault
	if errors.As(err, &fault) {
		if fault.Index < 0 {
			fault.Index, fault.Op, fault.Symbol = idx, op, sym
		}
		return fault
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e := AsError(err)
	if e.Index < 0 {
		e.Index = idx
	}
	return c.raise(e, idx, op, sym)
}

// raise unwinds to the nearest frame entered through pcall. That frame and
// everything above it are discarded; its caller receives the error in its
// error register, a null accumulator, and resumes after the call.
func (c *Context) raise(e *Error, idx int, op OpCode, sym *Symbol) error {
	for i := len(c.frames) - 1; i > 0; i-- {
		callee := c.frames[i]
		if !callee.protected {
			continue
		}
		caller := c.frames[i-1]
		clear(c.frames[i:])
		c.frames = c.frames[:i]
		caller.err = e
		caller.deliver(Null, callee.replaceAcc)
		return nil
	}
	return &UnhandledError{Err: e, Context: c.ID, Index: idx, Op: op, Symbol: sym}
}

// returnFrom pops the top frame and hands v to its caller. Returning from
// the outermost frame ends the context.
func (c *Context) returnFrom(v Value) {
	if len(c.frames) == 1 {
		c.finish(v)
		return
	}
	callee := c.top()
	c.frames[len(c.frames)-1] = nil
	c.frames = c.frames[:len(c.frames)-1]
	caller := c.top()
	if callee.protected {
		caller.err = nil
	}
	caller.result = v
	caller.deliver(v, callee.replaceAcc)
}

func (c *Context) finish(v Value) {
	c.done = true
	c.final = v
}

// ---------------------------------------------------------------------------
// Calls into VM code
// ---------------------------------------------------------------------------

// enter pushes a frame running l with args bound to its parameters in a new
// scope nested in the captured one.
func (c *Context) enter(l *Lambda, args []Value, protected, replace bool) error {
	if len(c.frames) >= c.vm.maxFrames {
		return NewError(StackOverflow, "call depth exceeds %d frames", c.vm.maxFrames)
	}
	fr, err := lambdaFrame(l, l.Scope, args)
	if err != nil {
		return err
	}
	fr.protected = protected
	fr.replaceAcc = replace
	c.frames = append(c.frames, fr)
	return nil
}

func lambdaFrame(l *Lambda, captured *Scope, args []Value) (*Frame, error) {
	if len(args) > len(l.Params) {
		return nil, NewError(RuntimeError, "%s takes %d arguments, got %d", l.frameName(), len(l.Params), len(args))
	}
	sc := NewScope(captured)
	for i, p := range l.Params {
		v := Null
		if i < len(args) {
			v = args[i]
		}
		sc.Define(p, v)
	}
	return newFrame(l.frameName(), l.Seq, l.Syms, l.Start, l.End, sc), nil
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

// value evaluates an operand in a value position. Names, quoted or not, read
// the variable they name.
func (c *Context) value(f *Frame, o Operand) (Value, error) {
	switch o.Kind {
	case OperandValue:
		return o.Value, nil
	case OperandVar, OperandSymbol:
		v, ok := f.scope().Lookup(o.Name)
		if !ok {
			return Null, NewError(RuntimeError, "undefined variable %q", o.Name)
		}
		return v, nil
	case OperandLabel:
		return Null, faultf("unresolved label %q", o.Name)
	}
	return Null, faultf("jump target used as a value")
}

func (c *Context) values(f *Frame, ops []Operand) ([]Value, error) {
	out := make([]Value, len(ops))
	for i, o := range ops {
		v, err := c.value(f, o)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// nameOf reads an operand in a name position: destination, member id, class
// or type name.
func nameOf(o Operand) (string, error) {
	switch o.Kind {
	case OperandVar, OperandSymbol:
		return o.Name, nil
	case OperandValue:
		if o.Value.kind == KindStr {
			return o.Value.str, nil
		}
	}
	return "", faultf("expected a name operand")
}

// store binds name in the frame's innermost scope chain.
func (c *Context) store(f *Frame, name string, v Value) {
	f.scope().Set(name, v)
}

// subject splits off the optional leading subject or destination operand.
// Fixed-arity instructions carry it exactly when every operand is present;
// variadic ones mark it by quoting.
func subject(in Instruction) (Operand, bool, []Operand) {
	info := in.Op.Info()
	if info.MaxArgs == Variadic {
		if len(in.Args) > 0 && in.Args[0].Kind == OperandSymbol {
			return in.Args[0], true, in.Args[1:]
		}
		return Operand{}, false, in.Args
	}
	if len(in.Args) == info.MaxArgs && len(in.Args) > 0 {
		return in.Args[0], true, in.Args[1:]
	}
	return Operand{}, false, in.Args
}

// subjectValue returns the explicit subject's value or the accumulator.
func (c *Context) subjectValue(f *Frame, subj Operand, has bool) (Value, error) {
	if has {
		return c.value(f, subj)
	}
	return f.acc, nil
}

// produce binds v to the destination if one was given, otherwise pushes it.
func (c *Context) produce(f *Frame, dst Operand, has bool, v Value) error {
	if !has {
		f.push(v)
		return nil
	}
	name, err := nameOf(dst)
	if err != nil {
		return err
	}
	c.store(f, name, v)
	return nil
}

// answer delivers a query result: pushed when the subject was explicit,
// replacing the accumulator when the accumulator was the subject.
func answer(f *Frame, explicit bool, v Value) {
	f.deliver(v, !explicit)
}

// rebind writes a new string back to its subject variable or accumulator.
func (c *Context) rebind(f *Frame, subj Operand, has bool, v Value) error {
	if !has {
		f.setAcc(v)
		return nil
	}
	name, err := nameOf(subj)
	if err != nil {
		return err
	}
	c.store(f, name, v)
	return nil
}

func toIndex(v Value) (int, error) {
	if !v.IsInteger() {
		return 0, NewError(TypeError, "index must be an integer, got %s", v.kind)
	}
	return int(v.Int()), nil
}

func requireLambda(v Value, what string) (*Lambda, error) {
	if v.kind != KindLambda {
		return nil, NewError(TypeError, "%s needs a lambda, got %s", what, v.kind)
	}
	return v.Lambda(), nil
}

func typeErr(op OpCode, want string, got Value) *Error {
	if got.IsNull() {
		return NewError(NullError, "%s on null, expected %s", op, want)
	}
	return NewError(TypeError, "%s expects %s, got %s", op, want, got.kind)
}

// stackTrace renders the call stack top first as name:index.
func (c *Context) stackTrace() []Value {
	out := make([]Value, 0, len(c.frames))
	for i := len(c.frames) - 1; i >= 0; i-- {
		f := c.frames[i]
		out = append(out, NewStr(fmt.Sprintf("%s:%d", f.name, f.ip-1)))
	}
	return out
}
