package vm

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Lambda: code chunk plus captured scope
// ---------------------------------------------------------------------------

// Lambda is a deferred code chunk created by proc (or impl). It holds its
// defining scope by reference, so later writes to captured variables are
// visible when it runs.
type Lambda struct {
	Name       string
	Params     []string
	Start, End int // body bounds in Seq, half-open
	Seq        *ISeq
	Syms       *DebugSymbols
	Scope      *Scope
	vm         *VM
}

// Call runs the lambda to completion in a fresh context on the calling
// goroutine. Hosts use it to call back into VM code.
func (l *Lambda) Call(ctx context.Context, args ...Value) (Value, error) {
	if l.vm == nil {
		return Null, errors.New("lambda is not bound to a VM")
	}
	return l.vm.callLambda(ctx, l, args)
}

func (l *Lambda) frameName() string {
	if l.Name != "" {
		return l.Name
	}
	return "lambda"
}

// ---------------------------------------------------------------------------
// Frame: one active invocation
// ---------------------------------------------------------------------------

// Frame holds the state of one invocation. The accumulator caches the top of
// the frame's private operand stack: producing a value spills the previous
// accumulator onto the stack, consuming it replaces it in place.
type Frame struct {
	name       string
	seq        *ISeq
	syms       *DebugSymbols
	start, end int
	ip         int

	acc    Value
	hasAcc bool
	stack  []Value

	result Value
	err    *Error
	scopes []*Scope

	protected  bool // entered through pcall
	replaceAcc bool // the return value replaces the caller's accumulator
}

func newFrame(name string, seq *ISeq, syms *DebugSymbols, start, end int, scope *Scope) *Frame {
	return &Frame{
		name:   name,
		seq:    seq,
		syms:   syms,
		start:  start,
		end:    end,
		ip:     start,
		scopes: []*Scope{scope},
	}
}

// scope returns the innermost scope.
func (f *Frame) scope() *Scope {
	return f.scopes[len(f.scopes)-1]
}

// push makes v the accumulator, spilling the previous one.
func (f *Frame) push(v Value) {
	if f.hasAcc {
		f.stack = append(f.stack, f.acc)
	}
	f.acc = v
	f.hasAcc = true
}

// setAcc replaces the accumulator without spilling.
func (f *Frame) setAcc(v Value) {
	f.acc = v
	f.hasAcc = true
}

// deliver places v by push or replace.
func (f *Frame) deliver(v Value, replace bool) {
	if replace {
		f.setAcc(v)
	} else {
		f.push(v)
	}
}

// pop removes the value below the accumulator.
func (f *Frame) pop() (Value, error) {
	n := len(f.stack)
	if n == 0 {
		return Null, faultf("operand stack underflow")
	}
	v := f.stack[n-1]
	f.stack[n-1] = Null
	f.stack = f.stack[:n-1]
	return v, nil
}

// drop discards the accumulator, exposing the value below it.
func (f *Frame) drop() {
	n := len(f.stack)
	if n == 0 {
		f.acc, f.hasAcc = Null, false
		return
	}
	f.acc = f.stack[n-1]
	f.stack = f.stack[:n-1]
}

// takeError returns the error register as a Value and clears it.
func (f *Frame) takeError() Value {
	if f.err == nil {
		return Null
	}
	v := NewErrorValue(f.err)
	f.err = nil
	return v
}
