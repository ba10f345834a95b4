package vm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Process: a context started by `go`
// ---------------------------------------------------------------------------

// ProcessState represents the state of a process.
type ProcessState int32

const (
	ProcessRunning ProcessState = iota
	ProcessTerminated
)

// Process is the handle to a spawned context. Programs receive it as a
// foreign value in the result register and may call wait, done?, id, and
// error on it.
type Process struct {
	ID     string
	state  atomic.Int32
	done   chan struct{}
	result Value
	err    error
	mu     sync.Mutex
}

func newProcess(id string) *Process {
	return &Process{ID: id, done: make(chan struct{})}
}

func (p *Process) markDone(result Value, err error) {
	p.mu.Lock()
	p.result = result
	p.err = err
	p.state.Store(int32(ProcessTerminated))
	p.mu.Unlock()
	close(p.done)
}

// Done is closed when the process terminates.
func (p *Process) Done() <-chan struct{} { return p.done }

// IsDone reports whether the process has terminated.
func (p *Process) IsDone() bool {
	return ProcessState(p.state.Load()) == ProcessTerminated
}

// Wait blocks until the process terminates or ctx ends, and returns its
// final value and error.
func (p *Process) Wait(ctx context.Context) (Value, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return Null, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *Process) String() string {
	return "process " + p.ID
}

// call answers the methods a program can invoke on a process handle.
func (p *Process) call(ctx context.Context, name string, args []Value) (Value, bool, error) {
	if len(args) != 0 {
		return Null, true, NewError(RuntimeError, "process %s takes no arguments", name)
	}
	switch name {
	case "wait":
		select {
		case <-p.done:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			return Null, true, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err != nil {
			var u *UnhandledError
			if errors.As(p.err, &u) {
				return Null, true, u.Err
			}
			return Null, true, NewError(RuntimeError, "process %s failed: %v", p.ID, p.err)
		}
		return p.result, true, nil
	case "done?":
		return NewBool(p.IsDone()), true, nil
	case "id":
		return NewStr(p.ID), true, nil
	case "error":
		if !p.IsDone() {
			return Null, true, nil
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err == nil {
			return Null, true, nil
		}
		return NewErrorValue(AsError(p.err)), true, nil
	}
	return Null, true, NewError(TypeError, "process has no method %q", name)
}

// ---------------------------------------------------------------------------
// Process registry
// ---------------------------------------------------------------------------

type processRegistry struct {
	mu    sync.RWMutex
	procs map[string]*Process
	wg    sync.WaitGroup
}

func (r *processRegistry) add(p *Process) {
	r.mu.Lock()
	if r.procs == nil {
		r.procs = make(map[string]*Process)
	}
	r.procs[p.ID] = p
	r.mu.Unlock()
	r.wg.Add(1)
}

func (r *processRegistry) remove(p *Process) {
	r.mu.Lock()
	delete(r.procs, p.ID)
	r.mu.Unlock()
	r.wg.Done()
}

// Processes returns the handles of every process still running, by ID.
func (vm *VM) Processes() []*Process {
	vm.procs.mu.RLock()
	defer vm.procs.mu.RUnlock()
	out := make([]*Process, 0, len(vm.procs.procs))
	for _, p := range vm.procs.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every spawned process has terminated.
func (vm *VM) Wait() {
	vm.procs.wg.Wait()
}

// ---------------------------------------------------------------------------
// Spawning
// ---------------------------------------------------------------------------

// spawn starts l in a new context on its own goroutine. Under ScopeShared
// the context works on the lambda's captured scope itself; under ScopeCopy
// it gets a flattened snapshot.
func (vm *VM) spawn(ctx context.Context, l *Lambda) *Process {
	if vm.policy == ScopeCopy {
		cp := *l
		cp.Scope = l.Scope.Flatten()
		l = &cp
	}
	base, err := lambdaFrame(l, l.Scope, nil)
	c := vm.newContext(ctx, base)
	p := newProcess(c.ID)
	vm.procs.add(p)
	vm.logger.Debugf("context %s: started %s", c.ID, l.frameName())

	go func() {
		defer vm.procs.remove(p)
		var v Value
		if err == nil {
			v, err = vm.runGuarded(c)
		}
		if err != nil {
			vm.logger.Errorf("context %s: %s", c.ID, err)
		} else {
			vm.logger.Debugf("context %s: finished", c.ID)
		}
		p.markDone(v, err)
	}()
	return p
}

// runGuarded runs c, turning a panic into an error so one broken context
// cannot take down the host.
func (vm *VM) runGuarded(c *Context) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = Null, fmt.Errorf("context %s panicked: %v", c.ID, r)
		}
	}()
	return c.run()
}
