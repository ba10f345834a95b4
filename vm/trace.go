package vm

import "fmt"

// TraceEvent describes one instruction about to execute.
type TraceEvent struct {
	Context string  // execution context ID
	Index   int     // instruction index in its sequence
	Op      OpCode
	Acc     Value   // accumulator before the instruction runs
	Symbol  *Symbol // debug symbol for Index, if any
}

// TraceHook observes execution. It runs on the executing goroutine before
// every instruction, so a hook shared by `go` contexts must be safe for
// concurrent use. Errors and panics from the hook are logged and ignored.
type TraceHook func(TraceEvent) error

func (vm *VM) emitTrace(c *Context, f *Frame, idx int, op OpCode) {
	if vm.trace == nil {
		return
	}
	sym, _ := f.syms.Lookup(idx)
	ev := TraceEvent{Context: c.ID, Index: idx, Op: op, Acc: f.acc, Symbol: sym}
	if err := vm.callTrace(ev); err != nil && vm.traceFailed.CompareAndSwap(false, true) {
		vm.logger.Warningf("trace hook failed, further failures are not logged: %s", err)
	}
}

func (vm *VM) callTrace(ev TraceEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trace hook panicked: %v", r)
		}
	}()
	return vm.trace(ev)
}
